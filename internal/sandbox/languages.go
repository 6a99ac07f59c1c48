package sandbox

// Language ids per the sandbox contract.
const (
	LangPython     = 71
	LangJavaScript = 63
	LangJava       = 62
	LangCpp        = 54
)

// Canonical language names used across the runner and the match blob.
const (
	Python     = "python"
	JavaScript = "javascript"
	Java       = "java"
	Cpp        = "cpp"
)

var languageIDs = map[string]int{
	Python:     LangPython,
	JavaScript: LangJavaScript,
	Java:       LangJava,
	Cpp:        LangCpp,
}

var aliases = map[string]string{
	"python":     Python,
	"python3":    Python,
	"py":         Python,
	"javascript": JavaScript,
	"js":         JavaScript,
	"node":       JavaScript,
	"java":       Java,
	"cpp":        Cpp,
	"c++":        Cpp,
}

// compiled languages may receive an explicit memory limit; interpreted ones
// use the sandbox defaults.
var compiledSet = map[int]bool{
	LangJava: true,
}

// Canonical resolves a language alias to its canonical name.
func Canonical(language string) (string, bool) {
	name, ok := aliases[language]
	return name, ok
}

// LanguageID resolves a canonical name to the sandbox language id.
func LanguageID(language string) (int, bool) {
	id, ok := languageIDs[language]
	return id, ok
}

// IsCompiled reports whether the language id belongs to the compiled set.
func IsCompiled(languageID int) bool {
	return compiledSet[languageID]
}
