//go:build !(svbsdk && cgo)

package svb

// Default returns the vendor SDK binding. This build has none.
func Default() (SDK, error) {
	return nil, ErrNoSDK
}
