package store

import sq "github.com/Masterminds/squirrel"

// SQL builds Postgres statements with $n placeholders.
var SQL = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
