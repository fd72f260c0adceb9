package app

import (
	"context"
	"log/slog"

	"presence/cmd/internal/attendance"
)

// newLogPresenter renders notices as log lines. The kiosk UI polls /state and reads
// the last notice from there.
func newLogPresenter(log *slog.Logger) attendance.Presenter {
	return attendance.PresenterFunc(func(n attendance.Notice) {
		level := slog.LevelInfo
		switch n.Kind {
		case attendance.NoticeRetry, attendance.NoticeUnavailable:
			level = slog.LevelWarn
		}
		log.Log(context.Background(), level, "notice."+string(n.Kind),
			"run_id", n.RunID,
			"title", n.Title,
			"message", n.Message,
			"retry", string(n.Retry),
		)
	})
}
