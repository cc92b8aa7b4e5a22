// Package catalog holds the static, build-time table of Gemini models this
// gateway knows how to route to: their rate limits, capabilities, and
// priority rank within their class.
package catalog

// Capability is a single bit in a Model's capability set.
type Capability uint32

const (
	CapText Capability = 1 << iota
	CapThinking
	CapFunctionCalling
	CapSearchGrounding
	CapCodeExecution
	CapURLContext
	CapStructuredOutput
	CapMultimodalInput
	CapImageGeneration
	CapEmbedding
)

// Has reports whether all bits in want are set in c.
func (c Capability) Has(want Capability) bool {
	return c&want == want
}

// Class groups models that compete for the same kind of request.
type Class string

const (
	ClassText      Class = "text"
	ClassImage     Class = "image"
	ClassEmbedding Class = "embedding"
)

// Model is one static catalog entry.
type Model struct {
	ID           string
	Class        Class
	Priority     int // ascending: 0 is tried first within its class
	Capabilities Capability
	RPM          int // requests per minute
	RPD          int // requests per day (calendar day, quota-zone boundary)
	TPM          int // tokens per minute
}

var allModels = []Model{
	{
		ID:           "gemini-2.5-pro",
		Class:        ClassText,
		Priority:     0,
		Capabilities: textCaps,
		RPM:          5,
		RPD:          100,
		TPM:          250000,
	},
	{
		ID:           "gemini-3-flash-preview",
		Class:        ClassText,
		Priority:     1,
		Capabilities: textCaps,
		RPM:          5,
		RPD:          50,
		TPM:          250000,
	},
	{
		ID:           "gemini-2.5-flash",
		Class:        ClassText,
		Priority:     2,
		Capabilities: textCaps,
		RPM:          15,
		RPD:          1500,
		TPM:          1000000,
	},
	{
		ID:           "gemini-2.5-flash-lite",
		Class:        ClassText,
		Priority:     3,
		Capabilities: textCaps,
		RPM:          15,
		RPD:          1000,
		TPM:          250000,
	},
	{
		ID:           "gemini-2.5-flash-image",
		Class:        ClassImage,
		Priority:     0,
		Capabilities: CapText | CapImageGeneration,
		RPM:          10,
		RPD:          25,
		TPM:          250000,
	},
	{
		ID:           "gemini-embedding-001",
		Class:        ClassEmbedding,
		Priority:     0,
		Capabilities: CapEmbedding,
		RPM:          15,
		RPD:          1500,
		TPM:          1000000,
	},
}

const textCaps = CapText | CapThinking | CapFunctionCalling | CapSearchGrounding |
	CapCodeExecution | CapURLContext | CapStructuredOutput | CapMultimodalInput

// Load returns the static catalog, ordered by (Class, Priority ascending).
func Load() []Model {
	out := make([]Model, len(allModels))
	copy(out, allModels)
	return out
}

// Get returns the catalog entry for id, if any.
func Get(id string) (Model, bool) {
	for _, m := range allModels {
		if m.ID == id {
			return m, true
		}
	}
	return Model{}, false
}

// ByClass returns catalog entries of the given class, ordered by ascending
// Priority — this is the candidate order spec.md §4.4 step 1 iterates over.
func ByClass(class Class) []Model {
	var out []Model
	for _, m := range allModels {
		if m.Class == class {
			out = append(out, m)
		}
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Priority < out[j-1].Priority; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}
