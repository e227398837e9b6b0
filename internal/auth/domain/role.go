package domain

import "time"

// Built-in role names. Ranks form a strict total order; custom roles all sit
// at rank zero and can never administer anyone.
const (
	RoleSuper = "super"
	RoleAdmin = "admin"
	RoleUser  = "user"
)

const (
	RankCustom = 0
	RankUser   = 1
	RankAdmin  = 2
	RankSuper  = 3
)

type Role struct {
	ID        string
	Name      string
	Rank      int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RankOf maps a role name to its rank. Unknown names are custom roles.
func RankOf(name string) int {
	switch name {
	case RoleSuper:
		return RankSuper
	case RoleAdmin:
		return RankAdmin
	case RoleUser:
		return RankUser
	default:
		return RankCustom
	}
}

// HighestRank returns the highest rank among the given roles, or RankCustom
// for an empty set.
func HighestRank(roles []Role) int {
	highest := RankCustom
	for _, r := range roles {
		if rank := RankOf(r.Name); rank > highest {
			highest = rank
		}
	}
	return highest
}
