package cache

// Invalidator drops all cached reads belonging to one user. The write path
// calls this after every committed ledger mutation so the next read of the
// user's balance or transaction lists hits the database.
type Invalidator struct {
	users        *Store
	transactions *Store
}

// NewInvalidator wires the user-profile and transaction-list stores.
func NewInvalidator(users, transactions *Store) *Invalidator {
	return &Invalidator{users: users, transactions: transactions}
}

// InvalidateUser removes the user's profile entry and every transaction-list
// variant cached under the user's key prefix.
func (i *Invalidator) InvalidateUser(userID string) {
	i.users.Delete(UserKey(userID))
	i.transactions.DeletePrefix(TransactionsPrefix(userID))
}

// UserKey is the cache key for a user's profile and cash balance.
func UserKey(userID string) string {
	return "user:" + userID
}

// TransactionsPrefix is the shared prefix for all of a user's cached
// transaction-list views. Individual views append a query suffix.
func TransactionsPrefix(userID string) string {
	return "transactions:" + userID
}
