package pasargad

import "github.com/mstgnz/shaparak/provider"

// Register adds the Pasargad gateway to r
func Register(r *provider.Registry) {
	r.Register(provider.Pasargad, New)
}
