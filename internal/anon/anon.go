// Package anon 对 ImagingRecord 做破坏性的身份字段改写，并把改写后的完整记录另存为新文件。
package anon

import (
	"fmt"
	"io"

	"github.com/John-Robertt/dcmconv/internal/domain"
	"github.com/John-Robertt/dcmconv/internal/infra/fsx"
)

const (
	// Placeholder 覆盖姓名与 ID。
	Placeholder = "Anonymous"
	// IdentityRemoved 是 (0012,0062) 的肯定值。
	IdentityRemoved = "YES"
)

// Identity 是匿名化所需的最小能力集：5 个身份字段的 setter + 原生格式编码。
type Identity interface {
	SetPatientName(string) error
	SetPatientID(string) error
	SetPatientBirthDate(string) error
	SetPatientSex(string) error
	SetPatientIdentityRemoved(string) error
	Encode(w io.Writer) error
}

// Apply 原地改写身份字段（无论原值是什么都覆盖；缺失则插入）。
func Apply(rec Identity) error {
	steps := []struct {
		field string
		set   func(string) error
		value string
	}{
		{"PatientName", rec.SetPatientName, Placeholder},
		{"PatientID", rec.SetPatientID, Placeholder},
		{"PatientBirthDate", rec.SetPatientBirthDate, ""},
		{"PatientSex", rec.SetPatientSex, ""},
		{"PatientIdentityRemoved", rec.SetPatientIdentityRemoved, IdentityRemoved},
	}
	for _, s := range steps {
		if err := s.set(s.value); err != nil {
			return fmt.Errorf("改写 %s 失败：%w", s.field, err)
		}
	}
	return nil
}

// Anonymize 改写 rec 并把完整记录（像素与其他元素不变）以原生格式写到 dst。
//
// 注意：rec 是被原地修改的；调用方之后对 rec 的读取（例如文本 dump）看到的是匿名后的值。
func Anonymize(rec Identity, dst string) error {
	if err := Apply(rec); err != nil {
		return domain.Wrap(domain.KindEncodeFailed, dst, err)
	}
	err := fsx.WriteAtomicNoOverwrite(dst, rec.Encode)
	return domain.Wrap(domain.KindEncodeFailed, dst, err)
}
