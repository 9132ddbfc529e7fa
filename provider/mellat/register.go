package mellat

import "github.com/mstgnz/shaparak/provider"

// Register adds the Mellat gateway to r
func Register(r *provider.Registry) {
	r.Register(provider.Mellat, New)
}
