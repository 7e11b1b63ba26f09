package logging

import "log/slog"

// 统一的字段名，保证 console 与 json 两种格式下可检索。
const (
	FieldMovie = "movie"
	FieldFile  = "file"
	FieldStage = "stage"
	FieldKind  = "kind"
	FieldRunID = "run_id"
)

func Movie(v string) slog.Attr { return slog.String(FieldMovie, v) }

func File(v string) slog.Attr { return slog.String(FieldFile, v) }

func Stage(v string) slog.Attr { return slog.String(FieldStage, v) }

func Kind(v string) slog.Attr { return slog.String(FieldKind, v) }

func RunID(v string) slog.Attr { return slog.String(FieldRunID, v) }

func Error(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "<nil>")
	}
	return slog.String("error", err.Error())
}
