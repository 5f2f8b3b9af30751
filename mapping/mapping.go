// Package mapping implements the MappingsIndex: a local, sqlite-backed
// table mapping human-facing search terms to DHT keys, with an FTS5
// companion for full-text search, plus the cart and favorites tables the
// client keeps locally. The database is driven through database/sql with
// the CGO-free modernc.org/sqlite driver.
package mapping

import (
	"context"
	"database/sql"

	"github.com/cockroachdb/errors"
	_ "modernc.org/sqlite"

	"github.com/neromon/dhtcore/nodeid"
)

const schema = `
CREATE TABLE IF NOT EXISTS mappings (
	search_term TEXT NOT NULL,
	key         TEXT NOT NULL,
	content     TEXT NOT NULL,
	UNIQUE(search_term, key, content)
);
CREATE VIRTUAL TABLE IF NOT EXISTS mappings_fts USING fts5(
	search_term, key UNINDEXED, content UNINDEXED, content='mappings', content_rowid='rowid'
);
CREATE TRIGGER IF NOT EXISTS mappings_ai AFTER INSERT ON mappings BEGIN
	INSERT INTO mappings_fts(rowid, search_term, key, content) VALUES (new.rowid, new.search_term, new.key, new.content);
END;
CREATE TRIGGER IF NOT EXISTS mappings_ad AFTER DELETE ON mappings BEGIN
	INSERT INTO mappings_fts(mappings_fts, rowid, search_term, key, content) VALUES('delete', old.rowid, old.search_term, old.key, old.content);
END;
CREATE TABLE IF NOT EXISTS cart (
	uuid    TEXT PRIMARY KEY,
	user_id TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS cart_item (
	cart_uuid    TEXT NOT NULL,
	listing_key  TEXT NOT NULL,
	quantity     INTEGER NOT NULL DEFAULT 1,
	PRIMARY KEY (cart_uuid, listing_key)
);
CREATE TABLE IF NOT EXISTS favorites (
	user_id      TEXT NOT NULL,
	listing_key  TEXT NOT NULL,
	PRIMARY KEY (user_id, listing_key)
);
`

// Mapping is one row linking a search term to a DHT key.
type Mapping struct {
	SearchTerm string
	Key        string
	Content    string
}

// Index owns the sqlite connection backing data.sqlite3.
type Index struct {
	db *sql.DB
}

// Open opens or creates the sqlite database at path and applies schema.
func Open(path string) (*Index, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "mapping: open failed")
	}
	// mappings is serialized by the embedded sqlite engine itself; a
	// single writer connection avoids SQLITE_BUSY under our own write
	// load without needing an external lock.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "mapping: schema init failed")
	}
	return &Index{db: db}, nil
}

// Close releases the underlying sqlite connection.
func (i *Index) Close() error { return i.db.Close() }

// Map inserts a (search_term, key, content) row. Duplicate rows are
// silently ignored (UNIQUE constraint).
func (i *Index) Map(ctx context.Context, searchTerm string, key nodeid.Key, content string) error {
	_, err := i.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO mappings(search_term, key, content) VALUES (?, ?, ?)`,
		searchTerm, key.Hex(), content)
	if err != nil {
		return errors.Wrap(err, "mapping: insert failed")
	}
	return nil
}

// Lookup returns every mapping row whose search_term exactly equals term.
func (i *Index) Lookup(ctx context.Context, term string) ([]Mapping, error) {
	rows, err := i.db.QueryContext(ctx,
		`SELECT search_term, key, content FROM mappings WHERE search_term = ?`, term)
	if err != nil {
		return nil, errors.Wrap(err, "mapping: lookup failed")
	}
	defer rows.Close()
	return scanMappings(rows)
}

// Search runs a full-text query against the FTS5 companion table.
func (i *Index) Search(ctx context.Context, query string) ([]Mapping, error) {
	rows, err := i.db.QueryContext(ctx, `
		SELECT m.search_term, m.key, m.content
		FROM mappings_fts f
		JOIN mappings m ON m.rowid = f.rowid
		WHERE f.search_term MATCH ?
		ORDER BY rank`, query)
	if err != nil {
		return nil, errors.Wrap(err, "mapping: search failed")
	}
	defer rows.Close()
	return scanMappings(rows)
}

func scanMappings(rows *sql.Rows) ([]Mapping, error) {
	var out []Mapping
	for rows.Next() {
		var m Mapping
		if err := rows.Scan(&m.SearchTerm, &m.Key, &m.Content); err != nil {
			return nil, errors.Wrap(err, "mapping: scan failed")
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "mapping: row iteration failed")
	}
	return out, nil
}

// RemoveKey purges every mapping row referencing key. Deletions never
// cascade: only rows for the one key the caller named are removed.
func (i *Index) RemoveKey(ctx context.Context, key nodeid.Key) error {
	_, err := i.db.ExecContext(ctx, `DELETE FROM mappings WHERE key = ?`, key.Hex())
	if err != nil {
		return errors.Wrap(err, "mapping: remove failed")
	}
	return nil
}

// AddToCart creates a cart row.
func (i *Index) AddToCart(ctx context.Context, cartUUID, userID string) error {
	_, err := i.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO cart(uuid, user_id) VALUES (?, ?)`, cartUUID, userID)
	return errors.Wrap(err, "mapping: add to cart failed")
}

// AddCartItem adds or updates an item's quantity within a cart.
func (i *Index) AddCartItem(ctx context.Context, cartUUID string, listingKey nodeid.Key, quantity int) error {
	_, err := i.db.ExecContext(ctx, `
		INSERT INTO cart_item(cart_uuid, listing_key, quantity) VALUES (?, ?, ?)
		ON CONFLICT(cart_uuid, listing_key) DO UPDATE SET quantity = excluded.quantity`,
		cartUUID, listingKey.Hex(), quantity)
	return errors.Wrap(err, "mapping: add cart item failed")
}

// RemoveFromCart deletes a cart and its items.
func (i *Index) RemoveFromCart(ctx context.Context, cartUUID string) error {
	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "mapping: begin tx failed")
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM cart_item WHERE cart_uuid = ?`, cartUUID); err != nil {
		return errors.Wrap(err, "mapping: remove cart items failed")
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM cart WHERE uuid = ?`, cartUUID); err != nil {
		return errors.Wrap(err, "mapping: remove cart failed")
	}
	return errors.Wrap(tx.Commit(), "mapping: commit failed")
}

// CartItem is one line of a cart.
type CartItem struct {
	ListingKey string
	Quantity   int
}

// ListCart returns every item in cartUUID's cart.
func (i *Index) ListCart(ctx context.Context, cartUUID string) ([]CartItem, error) {
	rows, err := i.db.QueryContext(ctx,
		`SELECT listing_key, quantity FROM cart_item WHERE cart_uuid = ?`, cartUUID)
	if err != nil {
		return nil, errors.Wrap(err, "mapping: list cart failed")
	}
	defer rows.Close()
	var out []CartItem
	for rows.Next() {
		var it CartItem
		if err := rows.Scan(&it.ListingKey, &it.Quantity); err != nil {
			return nil, errors.Wrap(err, "mapping: scan cart item failed")
		}
		out = append(out, it)
	}
	return out, errors.Wrap(rows.Err(), "mapping: cart row iteration failed")
}

// AddFavorite records that userID favorited listingKey.
func (i *Index) AddFavorite(ctx context.Context, userID string, listingKey nodeid.Key) error {
	_, err := i.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO favorites(user_id, listing_key) VALUES (?, ?)`, userID, listingKey.Hex())
	return errors.Wrap(err, "mapping: add favorite failed")
}

// RemoveFavorite un-favorites listingKey for userID.
func (i *Index) RemoveFavorite(ctx context.Context, userID string, listingKey nodeid.Key) error {
	_, err := i.db.ExecContext(ctx,
		`DELETE FROM favorites WHERE user_id = ? AND listing_key = ?`, userID, listingKey.Hex())
	return errors.Wrap(err, "mapping: remove favorite failed")
}

// ListFavorites returns every listing key userID has favorited.
func (i *Index) ListFavorites(ctx context.Context, userID string) ([]string, error) {
	rows, err := i.db.QueryContext(ctx,
		`SELECT listing_key FROM favorites WHERE user_id = ?`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "mapping: list favorites failed")
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, errors.Wrap(err, "mapping: scan favorite failed")
		}
		out = append(out, k)
	}
	return out, errors.Wrap(rows.Err(), "mapping: favorites row iteration failed")
}
