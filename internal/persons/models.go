package persons

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"hogflow/pkg/hog"
)

var ErrNotFound = errors.New("person not found")

type Person struct {
	ID          string                 `json:"id" bson:"_id"`
	DistinctIDs []string               `json:"distinct_ids" bson:"distinct_ids"`
	Properties  map[string]interface{} `json:"properties" bson:"properties"`
	CreatedAt   time.Time              `json:"created_at" bson:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at" bson:"updated_at"`
}

// DisplayName is the first of the email or name property, or the first distinct id.
func (p *Person) DisplayName() string {
	for _, key := range []string{"email", "name"} {
		if s, ok := p.Properties[key].(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	if len(p.DistinctIDs) > 0 {
		return p.DistinctIDs[0]
	}
	return p.ID
}

// Value converts p into the person global seen by scripts. siteURL may be empty.
func (p *Person) Value(siteURL string) hog.Value {
	m := hog.NewMap()
	m.Set("id", hog.StringValue(p.ID))
	m.Set("name", hog.StringValue(p.DisplayName()))
	if siteURL != "" {
		m.Set("url", hog.StringValue(fmt.Sprintf("%s/persons/%s", strings.TrimRight(siteURL, "/"), p.ID)))
	} else {
		m.Set("url", hog.Null())
	}
	props := p.Properties
	if props == nil {
		props = map[string]interface{}{}
	}
	m.Set("properties", hog.FromGo(props))
	return hog.MapValue(m)
}

// Anonymous is the person global used when no person is known for an event.
func Anonymous(distinctID string) hog.Value {
	m := hog.NewMap()
	m.Set("id", hog.Null())
	m.Set("name", hog.StringValue(distinctID))
	m.Set("url", hog.Null())
	m.Set("properties", hog.MapValue(hog.NewMap()))
	return hog.MapValue(m)
}
