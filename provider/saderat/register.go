package saderat

import "github.com/mstgnz/shaparak/provider"

// Register adds the Saderat gateway to r
func Register(r *provider.Registry) {
	r.Register(provider.Saderat, New)
}
