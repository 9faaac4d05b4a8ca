// Package samples generates demo work items and reads/writes item files.
package samples

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/jonathan/golden-record/internal/types"
)

// ErrNoItems is returned when an item file holds no items
var ErrNoItems = errors.New("item file contains no items")

type persona struct {
	name   string
	email  string
	phone  string
	tier   string
	region string
}

var personas = []persona{
	{"Maria Gonzalez", "maria.gonzalez@example.com", "+1-415-555-0142", "gold", "us-west"},
	{"Kenji Watanabe", "k.watanabe@example.jp", "+81-3-5555-0199", "silver", "apac"},
	{"Amara Okafor", "amara.okafor@example.ng", "+234-1-555-0107", "platinum", "emea"},
	{"Lukas Becker", "lukas.becker@example.de", "+49-30-5555-0123", "bronze", "emea"},
	{"Priya Raman", "priya.raman@example.in", "+91-80-5555-0168", "gold", "apac"},
	{"Tom Fletcher", "tom.fletcher@example.co.uk", "+44-20-5555-0181", "silver", "emea"},
}

// Each scenario is a transcript template; %[1]s is the customer's first name.
var scenarios = []string{
	"Agent: Thanks for calling, how can I help?\n" +
		"Customer: Hi, it's %[1]s. I moved last month and I also got a new email, it's %[1]s.new@example.com now.\n" +
		"Agent: I can update that for you.\n" +
		"Customer: Great, and please stop sending the paper statements.",
	"Customer: This is the third time I'm writing about the double charge. I want a refund today or I'm closing the account.\n" +
		"Agent: I'm sorry %[1]s, I can see the duplicate transaction.\n" +
		"Customer: Honestly I'm done with this.",
	"Agent: Hello %[1]s, you asked about plan options?\n" +
		"Customer: Yes, my team doubled in size, so we need the higher tier. Can you upgrade us before the next billing cycle?\n" +
		"Agent: Absolutely.",
	"Customer: Hey, quick one. My phone number changed, the old one is disconnected.\n" +
		"Agent: Sure %[1]s, what's the new number?\n" +
		"Customer: It ends in 0177, same area code. Everything else is fine, thanks!",
	"Customer: I got an email saying my account was downgraded. I never asked for that.\n" +
		"Agent: Let me check, %[1]s. It looks like the last payment failed.\n" +
		"Customer: Oh. Okay, I'll update the card, but please restore my tier.",
}

// Generator produces sample work items. It is not safe for concurrent use.
type Generator struct {
	rng *rand.Rand
	now func() time.Time
}

// NewGenerator creates a generator seeded from seed, so runs are reproducible
func NewGenerator(seed uint64) *Generator {
	return &Generator{
		rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		now: time.Now,
	}
}

// Item returns one freshly generated work item with a new opaque id
func (g *Generator) Item() types.WorkItem {
	p := personas[g.rng.IntN(len(personas))]
	scenario := scenarios[g.rng.IntN(len(scenarios))]
	first := strings.Fields(p.name)[0]

	return types.WorkItem{
		ID: uuid.NewString(),
		SourceRecord: types.SourceRecord{
			CustomerID: fmt.Sprintf("CUST-%05d", g.rng.IntN(100000)),
			Name:       p.name,
			Email:      p.email,
			Phone:      p.phone,
			Tier:       p.tier,
			Region:     p.region,
		},
		Transcript: fmt.Sprintf(scenario, first),
		CreatedAt:  g.now().UTC(),
	}
}

// Items returns n generated work items
func (g *Generator) Items(n int) []types.WorkItem {
	items := make([]types.WorkItem, 0, max(n, 0))
	for i := 0; i < n; i++ {
		items = append(items, g.Item())
	}
	return items
}

// itemFile is the on-disk layout of an item file
type itemFile struct {
	Items []types.WorkItem `yaml:"items"`
}

var validate = validator.New()

// NewManualItem builds a work item from user-entered fields, assigning an id and timestamp
func NewManualItem(source types.SourceRecord, transcript string) (types.WorkItem, error) {
	item := types.WorkItem{
		ID:           uuid.NewString(),
		SourceRecord: source,
		Transcript:   strings.TrimSpace(transcript),
		CreatedAt:    time.Now().UTC(),
	}
	if err := Validate(item); err != nil {
		return types.WorkItem{}, err
	}
	return item, nil
}

// Validate checks the required fields of a work item
func Validate(item types.WorkItem) error {
	if err := validate.Struct(item); err != nil {
		return fmt.Errorf("invalid work item: %w", err)
	}
	return nil
}

// LoadFile reads work items from a YAML item file. Items without an id get a fresh one,
// and items without a timestamp are stamped with the load time.
func LoadFile(path string) ([]types.WorkItem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read item file: %w", err)
	}

	var file itemFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse item file: %w", err)
	}
	if len(file.Items) == 0 {
		return nil, ErrNoItems
	}

	now := time.Now().UTC()
	for i := range file.Items {
		item := &file.Items[i]
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		if item.CreatedAt.IsZero() {
			item.CreatedAt = now
		}
		if err := Validate(*item); err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
	}
	return file.Items, nil
}

// SaveFile writes work items as a YAML item file
func SaveFile(path string, items []types.WorkItem) error {
	data, err := yaml.Marshal(itemFile{Items: items})
	if err != nil {
		return fmt.Errorf("failed to encode items: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write item file: %w", err)
	}
	return nil
}
