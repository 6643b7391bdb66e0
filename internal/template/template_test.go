package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testContext() Context {
	return Context{
		"user": map[string]any{
			"first_name":   "John",
			"last_name":    "Doe",
			"username":     "johndoe",
			"display_name": "John Doe",
		},
		"chat": map[string]any{
			"id":    int64(123),
			"title": "Test Group",
		},
		"response": map[string]any{
			"answer":  "I am John Doe",
			"details": "extra",
		},
	}
}

func TestRender_BasicVariables(t *testing.T) {
	assert.Equal(t, "Hello John!", Render("Hello {{user.first_name}}!", testContext()))
	assert.Equal(t, "Welcome to Test Group, John Doe!", Render("Welcome to {{chat.title}}, {{user.display_name}}!", testContext()))
}

func TestRender_MissingVariableRendersEmpty(t *testing.T) {
	assert.Equal(t, "Hello !", Render("Hello {{user.missing}}!", testContext()))
	assert.Equal(t, "Hello !", Render("Hello {{nope.deeper.path}}!", testContext()))
}

func TestRender_TrimsPlaceholderWhitespace(t *testing.T) {
	assert.Equal(t, "Hello John!", Render("Hello {{ user.first_name }}!", testContext()))
}

func TestRender_NonStringValues(t *testing.T) {
	assert.Equal(t, "Chat ID: 123", Render("Chat ID: {{chat.id}}", testContext()))
}

func TestRender_EscapesMarkdownByDefault(t *testing.T) {
	ctx := Context{"user": map[string]any{"display_name": "a*b_c[d]"}}
	assert.Equal(t, `a\*b\_c\[d\]`, Render("{{user.display_name}}", ctx))
}

func TestRender_RawModifierSkipsEscaping(t *testing.T) {
	ctx := Context{"chat": map[string]any{"ref": "[title](https://example.com)"}}
	assert.Equal(t, "[title](https://example.com)", Render("{{@chat.ref}}", ctx))
}

func TestRender_ModifierIsSingleCharacter(t *testing.T) {
	// only the first character is a modifier; the rest belongs to the path
	ctx := Context{"x": "value"}
	assert.Equal(t, "", Render("{{@>x}}", ctx))
}

func TestRender_QuoteModifier(t *testing.T) {
	ctx := Context{"response": map[string]any{"answer": "line one\nline two"}}
	assert.Equal(t, "**>line one\n>line two\n", Render("{{>response.answer}}", ctx))
}

func TestRender_EmptyAndStaticTemplates(t *testing.T) {
	assert.Equal(t, "", Render("", testContext()))
	assert.Equal(t, "Static message", Render("Static message", testContext()))
}

func TestRender_ResponseTemplate(t *testing.T) {
	got := Render("{{user.display_name}} answered: {{response.answer}} ({{response.details}})", testContext())
	assert.Equal(t, "John Doe answered: I am John Doe (extra)", got)
}

func TestEscape(t *testing.T) {
	assert.Equal(t, `\*\_\[\]\(\)\~\`+"\\`"+`\>\#\+\-\=\|\{\}\.\!`, Escape("*_[]()~`>#+-=|{}.!"))
	assert.Equal(t, "plain text", Escape("plain text"))
}
