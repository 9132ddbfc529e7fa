package saman

import "github.com/mstgnz/shaparak/provider"

// Register adds the Saman gateway to r
func Register(r *provider.Registry) {
	r.Register(provider.Saman, New)
}
