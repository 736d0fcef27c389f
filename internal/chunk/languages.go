package chunk

import (
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// grammar describes how to chunk one language structurally.
type grammar struct {
	language *sitter.Language
	// declarationTypes are the top-level AST node types that become chunks.
	declarationTypes map[string]bool
}

// grammars maps language identifiers (from the scanner) to tree-sitter
// grammars. Languages absent here are chunked with fixed-size windows.
var grammars = map[string]*grammar{
	"go": {
		language: golang.GetLanguage(),
		declarationTypes: map[string]bool{
			"function_declaration": true,
			"method_declaration":   true,
			"type_declaration":     true,
			"const_declaration":    true,
			"var_declaration":      true,
		},
	},
	"python": {
		language: python.GetLanguage(),
		declarationTypes: map[string]bool{
			"function_definition":  true,
			"class_definition":     true,
			"decorated_definition": true,
		},
	},
	"javascript": {
		language: javascript.GetLanguage(),
		declarationTypes: map[string]bool{
			"function_declaration": true,
			"class_declaration":    true,
			"lexical_declaration":  true,
			"variable_declaration": true,
			"export_statement":     true,
			"expression_statement": true,
		},
	},
	"typescript": {
		language: typescript.GetLanguage(),
		declarationTypes: map[string]bool{
			"function_declaration":   true,
			"class_declaration":      true,
			"interface_declaration":  true,
			"type_alias_declaration": true,
			"lexical_declaration":    true,
			"enum_declaration":       true,
			"export_statement":       true,
		},
	},
}

// grammarFor returns the grammar for a language, or nil if none registered.
func grammarFor(language string) *grammar {
	return grammars[language]
}
