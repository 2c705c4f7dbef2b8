package claims

import (
	"errors"
	"fmt"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
)

// ValidateGraphQLQuery checks that query is a syntactically valid GraphQL
// executable document with at least one operation. No schema is consulted.
func ValidateGraphQLQuery(query string) error {
	if strings.TrimSpace(query) == "" {
		return errors.New("graphql query is empty")
	}
	doc, err := parser.ParseQuery(&ast.Source{Name: "claim", Input: query})
	if err != nil {
		return fmt.Errorf("parse graphql query: %w", err)
	}
	if len(doc.Operations) == 0 {
		return errors.New("graphql query defines no operation")
	}
	return nil
}
