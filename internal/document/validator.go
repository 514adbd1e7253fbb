package document

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/antchfx/xmlquery"
	"go.uber.org/zap"

	"github.com/feedworks/crypto-reports/internal/models"
)

// WellFormednessError reports malformed markup, as opposed to a document
// that parses but violates the schema.
type WellFormednessError struct {
	Err error
}

func (e *WellFormednessError) Error() string {
	return fmt.Sprintf("document is not well-formed: %v", e.Err)
}

func (e *WellFormednessError) Unwrap() error { return e.Err }

const maxViolations = 5

var (
	decimalRe = regexp.MustCompile(`^[+-]?\d+(\.\d+)?$`)
	integerRe = regexp.MustCompile(`^-?\d+$`)
)

type typeRule int

const (
	typeAny typeRule = iota
	typeDecimal
	typeInteger
)

type attrRule struct {
	name string
	kind typeRule
}

type childRule struct {
	rule      elementRule
	minOccurs int
	unbounded bool
}

type elementRule struct {
	name     string
	attrs    []attrRule
	text     typeRule
	children []childRule
}

// Schema is the structural definition a report document must satisfy.
type Schema struct {
	root elementRule
}

// DefaultSchema describes the compliance report shape: the fixed
// container hierarchy, required attributes, and decimal/integer typed
// values.
func DefaultSchema() *Schema {
	one := func(r elementRule) childRule { return childRule{rule: r, minOccurs: 1} }

	return &Schema{root: elementRule{
		name:  "ComplianceReport",
		attrs: []attrRule{{name: "GeneratedAt"}, {name: "Version"}},
		children: []childRule{
			one(elementRule{
				name:  "Configuration",
				attrs: []attrRule{{name: "ValidatedBy"}, {name: "RequestedBy"}},
				children: []childRule{
					one(elementRule{
						name:  "Regulator",
						attrs: []attrRule{{name: "Name"}, {name: "LastUpdated"}},
					}),
				},
			}),
			one(elementRule{
				name: "Assets",
				children: []childRule{
					{
						minOccurs: 1,
						unbounded: true,
						rule: elementRule{
							name:  "Asset",
							attrs: []attrRule{{name: "InternalID"}, {name: "Ticker"}, {name: "Type"}},
							children: []childRule{
								one(elementRule{
									name: "TradeDetail",
									children: []childRule{
										one(elementRule{
											name:  "CurrentPrice",
											attrs: []attrRule{{name: "Source"}, {name: "Currency"}},
											text:  typeDecimal,
										}),
										one(elementRule{
											name:  "Volume",
											attrs: []attrRule{{name: "Traded", kind: typeDecimal}, {name: "Unit"}},
											text:  typeDecimal,
										}),
										one(elementRule{
											name: "Change24h",
											attrs: []attrRule{
												{name: "Pct", kind: typeDecimal},
												{name: "USD", kind: typeDecimal},
											},
										}),
									},
								}),
								one(elementRule{
									name: "History",
									children: []childRule{
										one(elementRule{name: "Name"}),
										one(elementRule{name: "Rank", text: typeInteger}),
										one(elementRule{
											name:  "MarketCap",
											attrs: []attrRule{{name: "Currency"}},
											text:  typeDecimal,
										}),
										one(elementRule{name: "Supply", text: typeDecimal}),
										one(elementRule{name: "ObservedAt"}),
									},
								}),
							},
						},
					},
				},
			}),
		},
	}}
}

// Validator checks built documents before persistence. With a nil schema
// it falls back to the reduced structural check.
type Validator struct {
	schema *Schema
	log    *zap.Logger
}

func NewValidator(schema *Schema, log *zap.Logger) *Validator {
	return &Validator{schema: schema, log: log}
}

// Validate never mutates the document and never partially accepts it.
func (v *Validator) Validate(xmlContent string) (bool, error) {
	if strings.TrimSpace(xmlContent) == "" {
		return false, &WellFormednessError{Err: fmt.Errorf("document is empty")}
	}

	doc, err := xmlquery.Parse(strings.NewReader(xmlContent))
	if err != nil {
		return false, &WellFormednessError{Err: err}
	}

	if v.schema == nil {
		return v.validateReduced(doc)
	}

	var violations []string
	root := firstElement(doc)
	if root == nil {
		return false, &WellFormednessError{Err: fmt.Errorf("document has no root element")}
	}
	if root.Data != v.schema.root.name {
		violations = append(violations, fmt.Sprintf("root element must be '%s', got '%s'", v.schema.root.name, root.Data))
	} else {
		validateElement(root, v.schema.root, "/"+root.Data, &violations)
	}

	if len(violations) > 0 {
		detail := strings.Join(violations[:min(len(violations), maxViolations)], "; ")
		v.log.Warn("schema validation failed", zap.String("detail", detail))
		return false, &models.ValidationError{Detail: detail}
	}
	return true, nil
}

// validateReduced is the fallback check when no schema definition is
// available: root tag, two root attributes, the two containers, and at
// least one Asset.
func (v *Validator) validateReduced(doc *xmlquery.Node) (bool, error) {
	root := firstElement(doc)
	if root == nil || root.Data != "ComplianceReport" {
		return false, &models.ValidationError{Detail: "root element must be 'ComplianceReport'"}
	}
	if !hasAttr(root, "GeneratedAt") {
		return false, &models.ValidationError{Detail: "root element must have 'GeneratedAt' attribute"}
	}
	if !hasAttr(root, "Version") {
		return false, &models.ValidationError{Detail: "root element must have 'Version' attribute"}
	}
	if root.SelectElement("Configuration") == nil {
		return false, &models.ValidationError{Detail: "document must contain 'Configuration' element"}
	}
	assets := root.SelectElement("Assets")
	if assets == nil {
		return false, &models.ValidationError{Detail: "document must contain 'Assets' element"}
	}
	if len(childElements(assets, "Asset")) == 0 {
		return false, &models.ValidationError{Detail: "document must contain at least one 'Asset' element"}
	}
	return true, nil
}

func validateElement(node *xmlquery.Node, rule elementRule, path string, violations *[]string) {
	record := func(format string, args ...any) {
		if len(*violations) < maxViolations {
			*violations = append(*violations, fmt.Sprintf(format, args...))
		}
	}

	for _, attr := range rule.attrs {
		if !hasAttr(node, attr.name) {
			record("%s: missing attribute '%s'", path, attr.name)
			continue
		}
		val := strings.TrimSpace(node.SelectAttr(attr.name))
		if !validType(val, attr.kind) {
			record("%s/@%s: '%s' is not a valid %s", path, attr.name, val, typeName(attr.kind))
		}
	}

	if rule.text != typeAny {
		val := strings.TrimSpace(node.InnerText())
		if !validType(val, rule.text) {
			record("%s: text '%s' is not a valid %s", path, val, typeName(rule.text))
		}
	}

	for _, child := range rule.children {
		matches := childElements(node, child.rule.name)
		if len(matches) < child.minOccurs {
			record("%s: missing required element '%s'", path, child.rule.name)
			continue
		}
		if !child.unbounded && len(matches) > 1 {
			record("%s: element '%s' must occur at most once", path, child.rule.name)
		}
		for i, m := range matches {
			childPath := path + "/" + child.rule.name
			if child.unbounded {
				childPath = fmt.Sprintf("%s[%d]", childPath, i+1)
			}
			validateElement(m, child.rule, childPath, violations)
		}
	}
}

func validType(val string, kind typeRule) bool {
	switch kind {
	case typeDecimal:
		return decimalRe.MatchString(val)
	case typeInteger:
		return integerRe.MatchString(val)
	default:
		return true
	}
}

func typeName(kind typeRule) string {
	switch kind {
	case typeDecimal:
		return "decimal"
	case typeInteger:
		return "integer"
	default:
		return "string"
	}
}

func hasAttr(node *xmlquery.Node, name string) bool {
	for _, a := range node.Attr {
		if a.Name.Local == name {
			return true
		}
	}
	return false
}

func childElements(node *xmlquery.Node, name string) []*xmlquery.Node {
	var out []*xmlquery.Node
	for c := node.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == xmlquery.ElementNode && c.Data == name {
			out = append(out, c)
		}
	}
	return out
}

func firstElement(doc *xmlquery.Node) *xmlquery.Node {
	for c := doc.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == xmlquery.ElementNode {
			return c
		}
	}
	return nil
}
