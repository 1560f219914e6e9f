package db

import _ "embed"

//go:embed schema.sql
var Schema string

// WildcardTarget is the subscription target matching every product.
const WildcardTarget = "*"
