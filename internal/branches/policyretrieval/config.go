// internal/branches/policyretrieval/config.go
package policyretrieval

import "time"

type Config struct {
	Index    string
	TopK     int
	MinScore float64
	Timeout  time.Duration
}
