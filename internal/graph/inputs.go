package graph

import (
	"crypto/sha256"
	"fmt"
	"os"

	"github.com/spf13/afero"
)

// digestInputs hashes the declared inputs of every cacheable rule, keyed by
// rule index. Walk visits entries in lexical order, so equal trees hash
// equally. Missing inputs contribute nothing.
func (b *Builder) digestInputs() (map[int][]byte, error) {
	digests := make(map[int][]byte)
	for _, rule := range b.matcher.Rules() {
		if !rule.Cacheable || len(rule.Inputs) == 0 {
			continue
		}
		h := sha256.New()
		for _, root := range rule.Inputs {
			err := afero.Walk(b.fs, root, func(p string, info os.FileInfo, err error) error {
				if err != nil {
					if os.IsNotExist(err) {
						return nil
					}
					return err
				}
				if info.IsDir() {
					return nil
				}
				content, err := afero.ReadFile(b.fs, p)
				if err != nil {
					return err
				}
				h.Write([]byte(p))
				h.Write([]byte{0})
				h.Write(content)
				h.Write([]byte{0})
				return nil
			})
			if err != nil {
				return nil, fmt.Errorf("module.rules[%d]: reading input %s: %w", rule.Index, root, err)
			}
		}
		digests[rule.Index] = h.Sum(nil)
	}
	return digests, nil
}
