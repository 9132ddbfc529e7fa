package parsian

import "github.com/mstgnz/shaparak/provider"

// Register adds the Parsian gateway to r
func Register(r *provider.Registry) {
	r.Register(provider.Parsian, New)
}
