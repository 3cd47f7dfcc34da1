package gemini

// ModelOption pairs an API model name with its display label for the
// selection keyboard.
type ModelOption struct {
	Name  string
	Label string
}

// ModelOptions are the models offered by /select_model, in display
// order. The list is presentation only — any model name a user ends up
// with is passed straight through to the API.
var ModelOptions = []ModelOption{
	{Name: "gemini-2.5-pro", Label: "🚀 Gemini 2.5 Pro"},
	{Name: "gemini-2.5-flash", Label: "⚡ Gemini 2.5 Flash"},
	{Name: "gemini-2.5-flash-lite", Label: "🌟 Gemini 2.5 Flash-Lite"},
	{Name: "gemini-2.5-flash-preview", Label: "🔍 Gemini 2.5 Flash Preview"},
}

// LabelFor returns the display label for a model name, or the name
// itself when it is not one of the offered options.
func LabelFor(name string) string {
	for _, opt := range ModelOptions {
		if opt.Name == name {
			return opt.Label
		}
	}
	return name
}
