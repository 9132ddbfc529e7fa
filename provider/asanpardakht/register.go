package asanpardakht

import "github.com/mstgnz/shaparak/provider"

// Register adds the AsanPardakht SOAP gateway to r
func Register(r *provider.Registry) {
	r.Register(provider.AsanPardakht, New)
}
