package domain

// AccountKind separates the two monitored populations. Whales and KOLs run
// through the same pipeline but persist to different collections and use
// different scoring inputs.
type AccountKind string

const (
	KindWhale AccountKind = "whale"
	KindKOL   AccountKind = "kol"
)

// InfluencerProfile is present only for KOL accounts.
type InfluencerProfile struct {
	Name          string `bson:"name" json:"name"`
	Handle        string `bson:"handle" json:"handle"`
	FollowerCount int64  `bson:"followerCount" json:"followerCount"`
	Avatar        string `bson:"avatar,omitempty" json:"avatar,omitempty"`
}

// TrackedAccount is one watched wallet. The set of tracked accounts is
// snapshot at monitor start; changes require a re-subscription.
type TrackedAccount struct {
	Address    string             `bson:"address" json:"address"`
	Kind       AccountKind        `bson:"kind" json:"kind"`
	Labels     []string           `bson:"labels,omitempty" json:"labels,omitempty"`
	Influencer *InfluencerProfile `bson:"influencer,omitempty" json:"influencer,omitempty"`
}

// AccountSet is an immutable address -> account snapshot used by the
// subscription manager and the classifier's account matching.
type AccountSet struct {
	accounts map[string]TrackedAccount
	addrs    []string
}

func NewAccountSet(accounts []TrackedAccount) *AccountSet {
	m := make(map[string]TrackedAccount, len(accounts))
	addrs := make([]string, 0, len(accounts))
	for _, a := range accounts {
		if _, dup := m[a.Address]; dup {
			continue
		}
		m[a.Address] = a
		addrs = append(addrs, a.Address)
	}
	return &AccountSet{accounts: m, addrs: addrs}
}

func (s *AccountSet) Lookup(address string) (TrackedAccount, bool) {
	a, ok := s.accounts[address]
	return a, ok
}

func (s *AccountSet) Contains(address string) bool {
	_, ok := s.accounts[address]
	return ok
}

// Addresses returns the snapshot list in insertion order. Callers must not
// mutate the returned slice.
func (s *AccountSet) Addresses() []string {
	return s.addrs
}

func (s *AccountSet) Len() int {
	return len(s.accounts)
}
