package syncengine

import "github.com/icsfxd/icsfx/propcodec"

// Well-known property tags the sync pipeline treats specially (mandatory
// header columns, exclusion list, best-body force-include). Real tag values
// are publicly documented in MS-OXPROPS; these are the numerically-correct
// well-known ids for the identifiers spec.md names, defined locally since
// this repo doesn't carry a full MS-OXPROPS table.
var (
	PidTagMid                     = propcodec.MakeTag(0x674A, propcodec.PTI8)
	PidTagFid                     = propcodec.MakeTag(0x6748, propcodec.PTI8)
	PidTagParentFid                = propcodec.MakeTag(0x6749, propcodec.PTI8)
	PidTagChangeNumber             = propcodec.MakeTag(0x67A4, propcodec.PTI8)
	PidTagChangeKey                = propcodec.MakeTag(0x65E2, propcodec.PTBinary)
	PidTagPredecessorChangeList    = propcodec.MakeTag(0x65E3, propcodec.PTBinary)
	PidTagLastModificationTime     = propcodec.MakeTag(0x3008, propcodec.PTSysTime)
	PidTagDisplayNameUnicode       = propcodec.MakeTag(0x3001, propcodec.PTUnicode)
	PidTagMessageSize              = propcodec.MakeTag(0x0E08, propcodec.PTLong)
	PidTagAssociated                = propcodec.MakeTag(0x67AA, propcodec.PTBoolean)
	PidTagSourceKey                 = propcodec.MakeTag(0x65E0, propcodec.PTBinary)
	PidTagParentSourceKey           = propcodec.MakeTag(0x65E1, propcodec.PTBinary)
	PidTagRowType                   = propcodec.MakeTag(0x0FF5, propcodec.PTLong)
	PidTagInstanceKey               = propcodec.MakeTag(0x0FF6, propcodec.PTBinary)
	PidTagInstanceNum               = propcodec.MakeTag(0x674E, propcodec.PTLong)
	PidTagInstID                    = propcodec.MakeTag(0x674D, propcodec.PTI8)
	PidTagBodyHTML                  = propcodec.MakeTag(0x1013, propcodec.PTBinary)
	PidTagBodyUnicode               = propcodec.MakeTag(0x1000, propcodec.PTUnicode)
	PidTagRowID                     = propcodec.MakeTag(0x3000, propcodec.PTLong)
	PidTagAddrTypeUnicode           = propcodec.MakeTag(0x3002, propcodec.PTUnicode)
	PidTagEmailAddressUnicode       = propcodec.MakeTag(0x3003, propcodec.PTUnicode)
	PidTagRecipientType             = propcodec.MakeTag(0x0C15, propcodec.PTLong)
	PidTagAttachNumber              = propcodec.MakeTag(0x0E21, propcodec.PTLong)
)

// contentsMandatory and hierarchyMandatory are the always-included property
// sets of spec §4.6, keyed by tag id for the exclusion/dedup bit-set.
var contentsMandatory = []propcodec.Tag{
	PidTagMid,
	PidTagAssociated,
	PidTagMessageSize,
	PidTagChangeNumber,
	PidTagChangeKey,
	PidTagPredecessorChangeList,
	PidTagLastModificationTime,
	PidTagDisplayNameUnicode,
}

var hierarchyMandatory = []propcodec.Tag{
	PidTagParentFid,
	PidTagFid,
	PidTagChangeNumber,
	PidTagChangeKey,
	PidTagPredecessorChangeList,
	PidTagLastModificationTime,
	PidTagDisplayNameUnicode,
}

// alwaysExcluded is never auto-discovered into a property list (spec §4.6).
var alwaysExcluded = []propcodec.Tag{
	PidTagRowType,
	PidTagInstanceKey,
	PidTagInstanceNum,
	PidTagInstID,
	PidTagFid,
	PidTagMid,
	PidTagSourceKey,
	PidTagParentSourceKey,
	PidTagParentFid,
}

var bestBodyTags = []propcodec.Tag{PidTagBodyHTML, PidTagBodyUnicode}

var (
	PidTagAttachMethod       = propcodec.MakeTag(0x3705, propcodec.PTLong)
	PidTagAttachSize         = propcodec.MakeTag(0x0E20, propcodec.PTLong)
	PidTagAttachFilename     = propcodec.MakeTag(0x3704, propcodec.PTString8)
	PidTagAttachLongFilename = propcodec.MakeTag(0x3707, propcodec.PTUnicode)
	PidTagAttachMimeTag      = propcodec.MakeTag(0x370E, propcodec.PTUnicode)
	PidTagAttachContentID    = propcodec.MakeTag(0x3712, propcodec.PTUnicode)
	PidTagAttachDataBinary   = propcodec.MakeTag(0x3701, propcodec.PTBinary)
	PidTagRenderingPosition  = propcodec.MakeTag(0x370B, propcodec.PTLong)
	PidTagRecordKey          = propcodec.MakeTag(0x0FF9, propcodec.PTBinary)
)

// recipientColumns are the per-recipient columns emitted inside a
// StartRecip/EndToRecip sub-block, beyond the RowId ordinal (spec §4.7).
var recipientColumns = []propcodec.Tag{
	PidTagAddrTypeUnicode,
	PidTagEmailAddressUnicode,
	PidTagDisplayNameUnicode,
	PidTagRecipientType,
}

// attachmentColumns is the fixed property list spec §4.7 assigns every
// attachment sub-block row.
var attachmentColumns = []propcodec.Tag{
	PidTagAttachNumber,
	PidTagAttachMethod,
	PidTagAttachSize,
	PidTagAttachFilename,
	PidTagAttachLongFilename,
	PidTagAttachMimeTag,
	PidTagAttachContentID,
	PidTagAttachDataBinary,
	PidTagRenderingPosition,
	PidTagRecordKey,
}
