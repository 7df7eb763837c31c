package ports

import "context"

// Notifier envía alertas de texto (fire-and-forget).
// Un fallo aquí nunca debe abortar el pipeline: los callers loguean y siguen.
type Notifier interface {
	Send(ctx context.Context, message string) error
}
