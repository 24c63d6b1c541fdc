package domain

// Prompt is what a model client receives for one generation call.
type Prompt struct {
	Model  string
	System string
	User   string
	// Images go with the user turn, after its text.
	Images []Image
	// Temperature is left to the provider default when nil.
	Temperature *float32
	MaxTokens   int32
}

// Image is an inline picture for a vision capable model.
type Image struct {
	Data     []byte
	MIMEType string
}
