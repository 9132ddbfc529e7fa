package ozone

import "github.com/mstgnz/shaparak/provider"

// Register adds the Ozone gateway to r
func Register(r *provider.Registry) {
	r.Register(provider.Ozone, New)
}
