package asanpardakhtrest

import "github.com/mstgnz/shaparak/provider"

// Register adds the AsanPardakht REST gateway to r
func Register(r *provider.Registry) {
	r.Register(provider.AsanPardakhtREST, New)
}
