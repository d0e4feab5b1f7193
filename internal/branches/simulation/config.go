// internal/branches/simulation/config.go
package simulation

type Config struct {
	// MinTopupAmount is the smallest top-up the product allows.
	MinTopupAmount float64
}
