package cel

// Example is a named action predicate shown to users writing their own.
type Example struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Expression  string `json:"expression"`
}

// Examples are served by the management API next to the action endpoints.
// Every expression compiles against the Evaluator environment.
var Examples = []Example{
	{"event_name", "A single event", `event.name == "$pageview"`},
	{"event_in_list", "Any of several events", `event.name in ["$identify", "$set"]`},
	{"property_present", "Events carrying a non-empty property", `has(event.properties.email) && event.properties.email != ""`},
	{"numeric_threshold", "Numeric property comparison", `double(event.properties.revenue) > 100.0`},
	{"url_prefix", "Pages under a URL prefix", `"$current_url" in event.properties && event.properties["$current_url"].startsWith("https://shop.")`},
	{"internal_user", "Persons with a company email, case insensitive", `has(person.properties.email) && person.properties.email.lowerAscii().endsWith("@acme.io")`},
	{"combined", "Purchases in one of two currencies", `event.name == "purchase" && has(event.properties.currency) && event.properties.currency in ["USD", "EUR"]`},
}

// ExampleExpression returns the expression of the named example, or "".
func ExampleExpression(name string) string {
	for _, ex := range Examples {
		if ex.Name == name {
			return ex.Expression
		}
	}
	return ""
}
