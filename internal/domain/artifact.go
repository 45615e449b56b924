package domain

import (
	"path/filepath"
	"strings"
)

// StagingDirName 是每个源目录下的输出子目录名。
const StagingDirName = "OUTPUT"

// AnonymizedPrefix 加在匿名副本文件名前（拼写沿用既有产物命名，不要“修正”）。
const AnonymizedPrefix = "ANONYMUS_"

// ArtifactPaths 是单个源文件全部产物的目标路径。
//
// 不变量：每个源文件只计算一次，之后所有写入都复用同一份路径。
type ArtifactPaths struct {
	Source     string
	Info       string
	Still      string
	Plot       string
	Animation  string
	Anonymized string
}

// NewArtifactPaths 由 staging 目录与源文件路径推导全部产物路径。
// 基名取源文件名去掉最后一个扩展名；匿名副本保留原文件名。
func NewArtifactPaths(stagingDir, source string) ArtifactPaths {
	file := filepath.Base(source)
	name := strings.TrimSuffix(file, filepath.Ext(file))
	return ArtifactPaths{
		Source:     source,
		Info:       filepath.Join(stagingDir, name+".txt"),
		Still:      filepath.Join(stagingDir, name+".jpg"),
		Plot:       filepath.Join(stagingDir, name+".png"),
		Animation:  filepath.Join(stagingDir, name+".gif"),
		Anonymized: filepath.Join(stagingDir, AnonymizedPrefix+file),
	}
}
