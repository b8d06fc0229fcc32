package doctype

import (
	"fmt"
	"strings"

	"github.com/beevik/etree"
)

// RuleSet is a named group of custom assertions embedded in a schema's
// appinfo annotations:
//
//	<rule-set name="...">
//	  <rule context="XPATH">
//	    <assert test="XPATH">message</assert>
//	  </rule>
//	</rule-set>
type RuleSet struct {
	Name  string
	Rules []Rule
}

type Rule struct {
	Context string
	Asserts []Assert
}

type Assert struct {
	Test    string
	Message string
}

// RuleSets collects the rule sets of every loaded schema document.
func (s *SchemaSet) RuleSets() ([]RuleSet, error) {
	var out []RuleSet
	for _, name := range s.order {
		tree := etree.NewDocument()
		if err := tree.ReadFromBytes(s.files[name]); err != nil {
			return nil, err
		}
		for _, appinfo := range tree.FindElements("//appinfo") {
			for _, rs := range appinfo.SelectElements("rule-set") {
				set := RuleSet{Name: rs.SelectAttrValue("name", name)}
				for _, r := range rs.SelectElements("rule") {
					rule := Rule{Context: r.SelectAttrValue("context", "")}
					for _, a := range r.SelectElements("assert") {
						rule.Asserts = append(rule.Asserts, Assert{
							Test:    a.SelectAttrValue("test", ""),
							Message: strings.TrimSpace(a.Text()),
						})
					}
					if rule.Context == "" {
						return nil, fmt.Errorf("rule set %s: rule without context", set.Name)
					}
					set.Rules = append(set.Rules, rule)
				}
				out = append(out, set)
			}
		}
	}
	return out, nil
}

// StylesheetID is the id given to the stylesheet generated for a rule set.
func (r RuleSet) StylesheetID() string {
	return "rule-set:" + r.Name
}

// Stylesheet generates an XSLT template which emits an Err element for
// each failed assertion. The eref attribute carries the breadcrumb id of
// the context element.
func (r RuleSet) Stylesheet() string {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="utf-8"`)

	sheet := doc.CreateElement("xsl:transform")
	sheet.CreateAttr("xmlns:xsl", "http://www.w3.org/1999/XSL/Transform")
	sheet.CreateAttr("version", "1.0")
	sheet.CreateAttr("id", r.StylesheetID())

	out := sheet.CreateElement("xsl:output")
	out.CreateAttr("method", "xml")

	root := sheet.CreateElement("xsl:template")
	root.CreateAttr("match", "/")
	errs := root.CreateElement("Errors")
	errs.CreateElement("xsl:apply-templates")

	for i, rule := range r.Rules {
		tmpl := sheet.CreateElement("xsl:template")
		tmpl.CreateAttr("match", rule.Context)
		tmpl.CreateAttr("priority", fmt.Sprint(len(r.Rules)-i))
		for _, a := range rule.Asserts {
			cond := tmpl.CreateElement("xsl:if")
			cond.CreateAttr("test", "not("+a.Test+")")
			e := cond.CreateElement("Err")
			e.CreateAttr("eref", "{@cdr-eid}")
			e.SetText(a.Message)
		}
		tmpl.CreateElement("xsl:apply-templates")
	}

	skip := sheet.CreateElement("xsl:template")
	skip.CreateAttr("match", "text()")

	doc.Indent(2)
	s, _ := doc.WriteToString()
	return s
}
