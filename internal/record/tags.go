package record

import "github.com/suyashkumar/dicom/pkg/tag"

// Tag 是 (group, element) 二元组。本工具只读写下面列出的 tag；
// 不提供按任意 tag 取值的通用接口，避免“写错 tag”这类只能在运行时发现的问题。
type Tag = tag.Tag

var (
	// TagNumberOfFrames 只做存在性判断：存在即视为多帧。
	TagNumberOfFrames = Tag{Group: 0x0028, Element: 0x0008}
	// TagFrameTime 是多帧文件的单帧时长（毫秒，DS）。
	TagFrameTime = Tag{Group: 0x0018, Element: 0x1063}

	TagPatientName            = Tag{Group: 0x0010, Element: 0x0010}
	TagPatientID              = Tag{Group: 0x0010, Element: 0x0020}
	TagPatientBirthDate       = Tag{Group: 0x0010, Element: 0x0030}
	TagPatientSex             = Tag{Group: 0x0010, Element: 0x0040}
	TagPatientIdentityRemoved = Tag{Group: 0x0012, Element: 0x0062}

	// 像素解码只读：解析库按无符号读出样本，有符号像素需要这两个 tag 还原。
	TagBitsStored          = Tag{Group: 0x0028, Element: 0x0101}
	TagPixelRepresentation = Tag{Group: 0x0028, Element: 0x0103}
)
