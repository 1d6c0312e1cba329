// Package syncengine implements sync configure & state upload (spec
// component C6) and sync download for contents and hierarchy (component
// C7): the per-session SyncContext, its property-list computation, the
// upload state-stream FSM, and the FastTransfer-producing download pipeline.
package syncengine

import (
	"github.com/icsfxd/icsfx/icserr"
	"github.com/icsfxd/icsfx/idset"
	"github.com/icsfxd/icsfx/propcodec"
	"github.com/icsfxd/icsfx/store"
)

// SyncType selects contents (messages) vs hierarchy (folders) mode.
type SyncType int

const (
	SyncContents SyncType = iota
	SyncHierarchy
)

// StateProperty names which of the four staged idset uploads is in
// progress (spec §3/§4.6). PropertyNone means no upload is staged.
type StateProperty int

const (
	PropertyNone StateProperty = iota
	PropertyIdsetGiven
	PropertyCnsetSeen
	PropertyCnsetSeenFAI
	PropertyCnsetRead
)

// Options mirrors the send_options/sync_flags/extra_flags bundle of
// SyncConfigure (spec §4.6).
type Options struct {
	RequestEID            bool
	RequestCN             bool
	RequestMessageSize    bool
	NoDeletions           bool
	NoForeignIdentifiers  bool
	FAI                   bool
	Normal                bool
	ReadState             bool
	BestBody              bool
	OnlySpecifiedProperties bool
}

// SyncContext is the per-session state of spec §3: client-supplied prior
// state, configured options, the computed property list(s), and the
// currently staged upload (at most one at a time).
type SyncContext struct {
	Folder       store.FolderRef
	ContentsMode bool // true = SyncContents, false = SyncHierarchy
	Options      Options

	IdsetGiven   *idset.Set
	CnsetSeen    *idset.Set
	CnsetSeenFAI *idset.Set
	CnsetRead    *idset.Set

	stagedProperty StateProperty
	stagedBuf      []byte

	NormalProps []propcodec.Tag
	FAIProps    []propcodec.Tag

	resolver idset.ReplicaResolver
}

// Configure builds a SyncContext per spec §4.6: the effective property
// list(s) from mandatory columns, the exclusion/inclusion pass over
// requestedTags, and best-body force-inclusion, against the set of
// properties the backend makes available for the folder's rows.
func Configure(folder store.FolderRef, st SyncType, opts Options, requestedTags []propcodec.Tag, available []propcodec.Tag, resolver idset.ReplicaResolver) (*SyncContext, error) {
	sc := &SyncContext{
		Folder:       folder,
		ContentsMode: st == SyncContents,
		Options:      opts,
		IdsetGiven:   idset.NewSet(false),
		CnsetSeen:    idset.NewSet(true),
		CnsetSeenFAI: idset.NewSet(true),
		CnsetRead:    idset.NewSet(true),
		resolver:     resolver,
	}

	var mandatory []propcodec.Tag
	if sc.ContentsMode {
		mandatory = contentsMandatory
	} else {
		mandatory = hierarchyMandatory
	}

	sc.NormalProps = computePropertyList(mandatory, requestedTags, available, opts)
	if sc.ContentsMode && opts.FAI {
		sc.FAIProps = computePropertyList(mandatory, requestedTags, available, opts)
	}
	return sc, nil
}

// computePropertyList implements spec §4.6's dedup/inclusion/exclusion
// rules: mandatory props are always present; if OnlySpecifiedProperties,
// requestedTags is an inclusion list layered on mandatory, otherwise it's
// an exclusion list applied to available. best_body force-includes
// PR_BODY_HTML/PR_BODY_UNICODE regardless of either list. A per-id bit-set
// (seen map) guarantees no tag id appears twice.
func computePropertyList(mandatory, requested, available []propcodec.Tag, opts Options) []propcodec.Tag {
	seen := map[uint16]bool{}
	var out []propcodec.Tag

	add := func(t propcodec.Tag) {
		id := t.PropID()
		if seen[id] {
			return
		}
		seen[id] = true
		out = append(out, t)
	}

	excluded := map[uint16]bool{}
	for _, t := range alwaysExcluded {
		excluded[t.PropID()] = true
	}

	for _, t := range mandatory {
		add(t)
	}

	if opts.OnlySpecifiedProperties {
		for _, t := range requested {
			if !excluded[t.PropID()] {
				add(t)
			}
		}
	} else {
		requestedExcluded := map[uint16]bool{}
		for _, t := range requested {
			requestedExcluded[t.PropID()] = true
		}
		for _, t := range available {
			if excluded[t.PropID()] || requestedExcluded[t.PropID()] {
				continue
			}
			add(t)
		}
	}

	if !opts.OnlySpecifiedProperties && opts.BestBody {
		for _, t := range bestBodyTags {
			add(t)
		}
	}

	return out
}

// BeginUpload starts a staged state-stream upload (spec §4.6). Returns
// ErrNotInitialized if any upload is already in progress.
func (sc *SyncContext) BeginUpload(prop StateProperty) error {
	if prop == PropertyNone {
		return icserr.New(icserr.InvalidParameter, "syncengine: cannot begin upload of PropertyNone")
	}
	if sc.stagedProperty != PropertyNone {
		return icserr.New(icserr.NotInitialized, "syncengine: upload already staged for property %d", sc.stagedProperty)
	}
	sc.stagedProperty = prop
	sc.stagedBuf = nil
	return nil
}

// ContinueUpload appends bytes to the staged buffer.
func (sc *SyncContext) ContinueUpload(b []byte) error {
	if sc.stagedProperty == PropertyNone {
		return icserr.New(icserr.NotInitialized, "syncengine: no upload staged")
	}
	sc.stagedBuf = append(sc.stagedBuf, b...)
	return nil
}

// EndUpload parses the staged buffer as an idset and replaces the
// corresponding stored set, clearing the staging state. A malformed buffer
// returns ErrIdSetMalformed and leaves the previously stored idset intact
// (spec §7: "do not discard previously committed state").
func (sc *SyncContext) EndUpload() error {
	if sc.stagedProperty == PropertyNone {
		return icserr.New(icserr.NotInitialized, "syncengine: no upload staged")
	}
	prop := sc.stagedProperty
	buf := sc.stagedBuf
	sc.stagedProperty = PropertyNone
	sc.stagedBuf = nil

	single := prop != PropertyIdsetGiven
	parsed, err := idset.Parse(buf, single, sc.resolver)
	if err != nil {
		return err
	}

	switch prop {
	case PropertyIdsetGiven:
		sc.IdsetGiven = parsed
	case PropertyCnsetSeen:
		sc.CnsetSeen = parsed
	case PropertyCnsetSeenFAI:
		sc.CnsetSeenFAI = parsed
	case PropertyCnsetRead:
		sc.CnsetRead = parsed
	}
	return nil
}

// StagedProperty reports which upload, if any, is currently in progress.
func (sc *SyncContext) StagedProperty() StateProperty { return sc.stagedProperty }
