package melli

import "github.com/mstgnz/shaparak/provider"

// Register adds the Melli gateway to r
func Register(r *provider.Registry) {
	r.Register(provider.Melli, New)
}
