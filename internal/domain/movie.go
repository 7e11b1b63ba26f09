package domain

import (
	"path/filepath"
	"strings"
)

// Movie 是一个影片目录名（输入与输出两侧共用的分组主键）。
//
// 约束：只能是单级目录名，不允许包含路径分隔符，也不允许是 "." 或 ".."。
type Movie string

// ParseMovie 校验目录名能否直接用作 <output>/<movie>/ 的一级子目录。
func ParseMovie(s string) (Movie, bool) {
	switch s {
	case ".", "..":
		return "", false
	}
	// 目录名原样保留（输出侧要镜像同名目录），只拒绝全空白。
	if strings.TrimSpace(s) == "" {
		return "", false
	}
	if strings.ContainsRune(s, '/') || strings.ContainsRune(s, filepath.Separator) {
		return "", false
	}
	return Movie(s), true
}
