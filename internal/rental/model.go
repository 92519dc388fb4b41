// Package rental implements shared rental-search sessions: membership
// gating, live session views, and fire-and-forget writes over the document
// store.
package rental

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/evcraddock/rent-finder/internal/docstore"
)

// Role is a member's role within a session.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleMember Role = "member"
)

// TimeLayout is the creationDate format. It sorts lexically in time order.
const TimeLayout = "2006-01-02T15:04:05.000Z"

// FormatTime renders t as a creationDate.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// Session is a shared search workspace.
type Session struct {
	ID           string          `json:"id,omitempty"`
	Name         string          `json:"name"`
	CreationDate string          `json:"creationDate"`
	Members      map[string]Role `json:"members"`
	ListingIDs   []string        `json:"listingIds"`
}

// IsMember reports whether identityID has any role in the session.
func (s *Session) IsMember(identityID string) bool {
	_, ok := s.Members[identityID]
	return ok
}

// DefaultSessionName is the name given to a session created without one.
func DefaultSessionName(now time.Time) string {
	return "New Search - " + now.Format("2006-01-02")
}

// Frequency is how often rent is adjusted.
type Frequency string

const (
	FrequencyQuarterly   Frequency = "trimestral"
	FrequencyFourMonthly Frequency = "cuatrimestral"
	FrequencySemiannual  Frequency = "semestral"
	FrequencyUnknown     Frequency = "unknown"
)

// Index is the inflation index rent adjustments follow.
type Index string

const (
	IndexIPC     Index = "IPC"
	IndexICL     Index = "ICL"
	IndexUnknown Index = "unknown"
)

// Listing is one candidate rental.
type Listing struct {
	ID                  string    `json:"id,omitempty"`
	SessionID           string    `json:"sessionId"`
	URL                 string    `json:"url"`
	Rent                float64   `json:"rent"`
	Expenses            *float64  `json:"expenses,omitempty"`
	AgencyFee           *float64  `json:"agencyFee,omitempty"`
	Deposit             string    `json:"deposit,omitempty"`
	AdjustmentFrequency Frequency `json:"adjustmentFrequency"`
	AdjustmentIndex     Index     `json:"adjustmentIndex"`
	CreationDate        string    `json:"creationDate"`
}

// MonthlyTotal is rent plus expenses.
func (l *Listing) MonthlyTotal() float64 {
	total := l.Rent
	if l.Expenses != nil {
		total += *l.Expenses
	}
	return total
}

// FormatMoney renders an amount in pesos the way Argentine listings write
// it: dots group thousands and a comma separates cents, which are omitted
// when zero.
func FormatMoney(v float64) string {
	neg := v < 0
	if neg {
		v = -v
	}
	whole := int64(v)
	cents := int64((v-float64(whole))*100 + 0.5)
	if cents == 100 {
		whole++
		cents = 0
	}
	s := "$" + groupThousands(whole)
	if cents > 0 {
		s += fmt.Sprintf(",%02d", cents)
	}
	if neg {
		s = "-" + s
	}
	return s
}

func groupThousands(n int64) string {
	s := strconv.FormatInt(n, 10)
	if len(s) <= 3 {
		return s
	}
	var parts []string
	for len(s) > 3 {
		parts = append([]string{s[len(s)-3:]}, parts...)
		s = s[:len(s)-3]
	}
	parts = append([]string{s}, parts...)
	return strings.Join(parts, ".")
}

// Host returns the listing URL's host, for display.
func (l *Listing) Host() string {
	u, err := url.Parse(l.URL)
	if err != nil || u.Host == "" {
		return l.URL
	}
	return strings.TrimPrefix(u.Host, "www.")
}

// Comment is a note left on a listing.
type Comment struct {
	ID           string `json:"id,omitempty"`
	Text         string `json:"text"`
	Author       string `json:"author"`
	CreationDate string `json:"creationDate"`
	ListingID    string `json:"listingId"`
}

// Vote is one identity's up or down vote on a listing.
type Vote struct {
	ID           string `json:"id,omitempty"`
	UserID       string `json:"userId"`
	Value        int    `json:"value"`
	CreationDate string `json:"creationDate"`
	ListingID    string `json:"listingId"`
}

// Tally summarizes the votes on a listing from one identity's point of view.
type Tally struct {
	Up   int `json:"up"`
	Down int `json:"down"`
	// Mine is the viewer's vote: 1, -1, or 0 for none.
	Mine int `json:"mine"`
}

// Score is upvotes minus downvotes.
func (t Tally) Score() int {
	return t.Up - t.Down
}

// TallyVotes counts votes, recording viewer's own vote.
func TallyVotes(votes []*Vote, viewer string) Tally {
	var t Tally
	for _, v := range votes {
		switch {
		case v.Value > 0:
			t.Up++
		case v.Value < 0:
			t.Down++
		}
		if viewer != "" && v.UserID == viewer {
			t.Mine = v.Value
		}
	}
	return t
}

// Paths.

func SessionPath(sid string) string {
	return docstore.Join("sessions", sid)
}

func ListingsPath(sid string) string {
	return docstore.Join("sessions", sid, "listings")
}

func ListingPath(sid, lid string) string {
	return docstore.Join("sessions", sid, "listings", lid)
}

func CommentsPath(sid, lid string) string {
	return docstore.Join("sessions", sid, "listings", lid, "comments")
}

func VotesPath(sid, lid string) string {
	return docstore.Join("sessions", sid, "listings", lid, "votes")
}

// ShareURL is the link members send to invite others into a session.
func ShareURL(baseURL, sid string) string {
	return strings.TrimRight(baseURL, "/") + "/session/" + url.PathEscape(sid)
}

func decodeSession(d *docstore.Document) (*Session, error) {
	var s Session
	if err := d.Decode(&s); err != nil {
		return nil, fmt.Errorf("decoding session: %w", err)
	}
	s.ID = d.ID
	if s.Members == nil {
		s.Members = make(map[string]Role)
	}
	return &s, nil
}

func decodeListings(docs []*docstore.Document) ([]*Listing, error) {
	listings := make([]*Listing, 0, len(docs))
	for _, d := range docs {
		var l Listing
		if err := d.Decode(&l); err != nil {
			return nil, fmt.Errorf("decoding listing: %w", err)
		}
		l.ID = d.ID
		listings = append(listings, &l)
	}
	return listings, nil
}

func decodeComments(docs []*docstore.Document) ([]*Comment, error) {
	comments := make([]*Comment, 0, len(docs))
	for _, d := range docs {
		var c Comment
		if err := d.Decode(&c); err != nil {
			return nil, fmt.Errorf("decoding comment: %w", err)
		}
		c.ID = d.ID
		comments = append(comments, &c)
	}
	return comments, nil
}

func decodeVotes(docs []*docstore.Document) ([]*Vote, error) {
	votes := make([]*Vote, 0, len(docs))
	for _, d := range docs {
		var v Vote
		if err := d.Decode(&v); err != nil {
			return nil, fmt.Errorf("decoding vote: %w", err)
		}
		v.ID = d.ID
		votes = append(votes, &v)
	}
	return votes, nil
}
