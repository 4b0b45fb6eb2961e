package manifest

import (
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// manifestSchema is the structural contract of the stored manifest. Entries
// are closed: an unknown field means some other writer changed the format,
// and the file is left alone rather than rewritten without it.
const manifestSchema = `
#Entry: {
	slug:                    string & !=""
	business_id:             string
	project_id?:             string
	google_ads_customer_id?: string | null
}

#Manifest: [...#Entry]
`

// Schema validates raw manifest bytes against the CUE contract.
type Schema struct {
	mu       sync.Mutex
	ctx      *cue.Context
	manifest cue.Value
}

var defaultSchema = mustSchema(manifestSchema)

// NewSchema compiles a manifest schema. The source must define #Manifest.
func NewSchema(src string) (*Schema, error) {
	ctx := cuecontext.New()
	val := ctx.CompileString(src)
	if err := val.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile manifest schema: %w", err)
	}

	def := val.LookupPath(cue.ParsePath("#Manifest"))
	if !def.Exists() {
		return nil, fmt.Errorf("manifest schema does not define #Manifest")
	}

	return &Schema{ctx: ctx, manifest: def}, nil
}

func mustSchema(src string) *Schema {
	s, err := NewSchema(src)
	if err != nil {
		panic(err)
	}
	return s
}

// Validate checks that data is a JSON array of well-formed entries.
func (s *Schema) Validate(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	val := s.ctx.CompileBytes(data)
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to parse manifest: %w", err)
	}

	unified := s.manifest.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("manifest validation failed: %w", err)
	}
	return nil
}
