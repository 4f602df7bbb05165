//go:build !cgo

package embedding

func newSemanticStrategy(_ Config) (Strategy, error) {
	return nil, errSemanticUnavailable
}
