// internal/branches/sqlanalyst/config.go
package sqlanalyst

import "time"

type Config struct {
	Timeout time.Duration
}
