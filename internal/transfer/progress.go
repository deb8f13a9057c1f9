package transfer

import "log/slog"

// progressLogInterval is the number of bytes between progress log lines.
const progressLogInterval = 8 * 1024 * 1024

// LogProgress returns a ProgressFunc that logs at debug level roughly every
// 8 MiB. The returned func is not safe for use by more than one transfer.
func LogProgress(logger *slog.Logger, direction, name string) ProgressFunc {
	var next int64 = progressLogInterval

	return func(transferred, total int64) {
		if transferred < next {
			return
		}

		next = transferred + progressLogInterval

		logger.Debug("transfer progress",
			slog.String("direction", direction),
			slog.String("name", name),
			slog.Int64("bytes", transferred),
			slog.Int64("total", total),
		)
	}
}
