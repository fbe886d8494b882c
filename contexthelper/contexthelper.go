package contexthelper

import "context"

// CheckCancellation returns the context error when ctx is already done, nil otherwise.
// It never blocks.
func CheckCancellation(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
