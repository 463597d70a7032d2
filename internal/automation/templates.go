package automation

import "slices"

// CombinationTemplate is a named, commonly used key chord.
type CombinationTemplate struct {
	Name string   `json:"name"`
	Keys []string `json:"keys"`
}

// Action returns the template as a combination action.
func (t CombinationTemplate) Action() Action {
	return Combination(t.Keys...)
}

var combinationTemplates = []CombinationTemplate{
	{Name: "copy", Keys: []string{"ctrl", "c"}},
	{Name: "paste", Keys: []string{"ctrl", "v"}},
	{Name: "cut", Keys: []string{"ctrl", "x"}},
	{Name: "select_all", Keys: []string{"ctrl", "a"}},
	{Name: "undo", Keys: []string{"ctrl", "z"}},
	{Name: "redo", Keys: []string{"ctrl", "y"}},
	{Name: "save", Keys: []string{"ctrl", "s"}},
	{Name: "find", Keys: []string{"ctrl", "f"}},
	{Name: "replace", Keys: []string{"ctrl", "h"}},
	{Name: "new", Keys: []string{"ctrl", "n"}},
	{Name: "open", Keys: []string{"ctrl", "o"}},
	{Name: "switch_window", Keys: []string{"alt", "tab"}},
	{Name: "close_window", Keys: []string{"alt", "f4"}},
	{Name: "minimise", Keys: []string{"win", "m"}},
	{Name: "show_desktop", Keys: []string{"win", "d"}},
}

var commonKeys = []string{
	"space", "enter", "backspace", "delete", "tab", "esc",
	"up", "down", "left", "right",
	"home", "end", "pageup", "pagedown",
	"f1", "f2", "f3", "f4", "f5", "f6", "f7", "f8", "f9", "f10", "f11", "f12",
	"ctrl", "alt", "shift", "win", "cmd",
}

// CombinationTemplates returns the built-in chord templates in display order.
func CombinationTemplates() []CombinationTemplate {
	out := make([]CombinationTemplate, len(combinationTemplates))
	for i, t := range combinationTemplates {
		out[i] = CombinationTemplate{Name: t.Name, Keys: slices.Clone(t.Keys)}
	}
	return out
}

// CombinationTemplateByName looks up a template.
func CombinationTemplateByName(name string) (CombinationTemplate, bool) {
	for _, t := range combinationTemplates {
		if t.Name == name {
			return CombinationTemplate{Name: t.Name, Keys: slices.Clone(t.Keys)}, true
		}
	}
	return CombinationTemplate{}, false
}

// CommonKeys returns the key names offered for single-key actions.
func CommonKeys() []string {
	return slices.Clone(commonKeys)
}
