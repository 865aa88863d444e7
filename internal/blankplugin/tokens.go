package blankplugin

import (
	"encoding/hex"
	"maps"
	"slices"
	"strconv"
	"strings"
)

// Token keys understood by the blank plugin templates
const (
	TokenName           = "name"
	TokenVersion        = "jamba_git_hash"
	TokenNamespace      = "namespace"
	TokenNamespaceStart = "namespace_start"
	TokenNamespaceEnd   = "namespace_end"
	TokenProcessorUUID  = "processor_uuid"
	TokenControllerUUID = "controller_uuid"
	TokenYear           = "year"
	TokenRootDir        = "jamba_root_dir"
	TokenLocalJamba     = "local_jamba"
	TokenRemoteJamba    = "remote_jamba"
	TokenEnableVST2     = "enable_vst2"
	TokenEnableAU       = "enable_audio_unit"
)

const (
	// DefaultName is used when no plugin name is supplied
	DefaultName = "Plugin"

	// FilePlaceholder is replaced by the plugin name in template file names
	FilePlaceholder = "__Plugin__"

	namespaceSeparator = "::"
)

var pathDefaults = map[string]string{
	TokenRootDir:     "../../pongasoft/jamba",
	TokenLocalJamba:  "#",
	TokenRemoteJamba: "",
}

// resolveTokens merges the caller tokens with the derived ones. Caller values
// win, except for the namespace wrappers and the ON/OFF flags which are always
// derived.
func (c *Cache) resolveTokens(tokens map[string]string, version string) map[string]string {
	resolved := maps.Clone(tokens)
	if resolved == nil {
		resolved = make(map[string]string)
	}

	setDefault := func(key, value string) {
		if _, ok := resolved[key]; !ok {
			resolved[key] = value
		}
	}

	if resolved[TokenName] == "" {
		resolved[TokenName] = DefaultName
	}
	setDefault(TokenVersion, version)

	start, end := expandNamespace(resolved[TokenNamespace])
	resolved[TokenNamespaceStart] = start
	resolved[TokenNamespaceEnd] = end

	// both ids are drawn on every call so the controller id does not depend
	// on whether the processor id was supplied
	processor, controller := formatUUID(c.newUUID()), formatUUID(c.newUUID())
	setDefault(TokenProcessorUUID, processor)
	setDefault(TokenControllerUUID, controller)

	setDefault(TokenYear, strconv.Itoa(c.now().Year()))
	for key, value := range pathDefaults {
		setDefault(key, value)
	}

	resolved[TokenEnableVST2] = onOff(resolved[TokenEnableVST2])
	resolved[TokenEnableAU] = onOff(resolved[TokenEnableAU])

	return resolved
}

// expandNamespace turns "a::b" into nested C++ namespace opening and closing
// lines
func expandNamespace(ns string) (start, end string) {
	ns = strings.TrimSpace(ns)
	if ns == "" {
		return "", ""
	}

	segments := strings.Split(ns, namespaceSeparator)
	open := make([]string, len(segments))
	closing := make([]string, len(segments))
	for i, segment := range segments {
		open[i] = "namespace " + segment + " {"
		closing[i] = "}"
	}

	return strings.Join(open, "\n"), strings.Join(closing, "\n")
}

// formatUUID renders the 128 bits as four 32-bit hex words
func formatUUID(id [16]byte) string {
	words := make([]string, 4)
	for i := range words {
		words[i] = "0x" + hex.EncodeToString(id[i*4:(i+1)*4])
	}
	return strings.Join(words, ", ")
}

func onOff(value string) string {
	if isTruthy(value) {
		return "ON"
	}
	return "OFF"
}

// isTruthy accepts the spellings HTML forms and config files use for true
func isTruthy(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "t", "yes", "y", "on", "1":
		return true
	default:
		return false
	}
}

// newReplacer substitutes every [-key-] marker in a single pass
func newReplacer(tokens map[string]string) *strings.Replacer {
	keys := slices.Sorted(maps.Keys(tokens))
	pairs := make([]string, 0, len(keys)*2)
	for _, key := range keys {
		pairs = append(pairs, "[-"+key+"-]", tokens[key])
	}
	return strings.NewReplacer(pairs...)
}
