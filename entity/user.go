package entity

import (
	"time"

	"github.com/goliatone/go-biocore/flow"
)

type UserStatus string

const (
	UserPendingVerification UserStatus = "pending_verification"
	UserActive              UserStatus = "active"
	UserSuspended           UserStatus = "suspended"
	UserDeactivated         UserStatus = "deactivated"
	UserDeleted             UserStatus = "deleted"
)

type User struct {
	ID               string     `json:"id" yaml:"id"`
	Email            string     `json:"email" yaml:"email"`
	Name             string     `json:"name,omitempty" yaml:"name,omitempty"`
	EmailVerified    bool       `json:"email_verified" yaml:"email_verified"`
	SuspensionReason string     `json:"suspension_reason,omitempty" yaml:"suspension_reason,omitempty"`
	ActivatedAt      *time.Time `json:"activated_at,omitempty" yaml:"activated_at,omitempty"`
	SuspendedAt      *time.Time `json:"suspended_at,omitempty" yaml:"suspended_at,omitempty"`
	DeletedAt        *time.Time `json:"deleted_at,omitempty" yaml:"deleted_at,omitempty"`

	flow.Lifecycle[UserStatus] `yaml:",inline"`
}

func (u *User) EntityID() string { return u.ID }

func NewUser(id, email string) *User {
	if id == "" {
		id = NewID()
	}
	return &User{ID: id, Email: email, Lifecycle: flow.Lifecycle[UserStatus]{Status: UserPendingVerification}}
}

var userTable = tableSpec[*User, UserStatus]{
	kind:    KindUser,
	initial: UserPendingVerification,
	states:  []UserStatus{UserPendingVerification, UserActive, UserSuspended, UserDeactivated, UserDeleted},
	moves: []move[UserStatus]{
		{UserPendingVerification, []UserStatus{UserActive, UserDeleted}},
		{UserActive, []UserStatus{UserSuspended, UserDeactivated, UserDeleted}},
		{UserSuspended, []UserStatus{UserActive, UserDeactivated, UserDeleted}},
		{UserDeactivated, []UserStatus{UserActive, UserDeleted}},
	},
	enter: map[UserStatus]rule[*User]{
		UserActive: {
			guards: []flow.Guard[*User]{func(u *User, _ flow.Metadata, _ time.Time) error {
				return flow.Check(u.EmailVerified, "Email must be verified before activation")
			}},
			effects: []flow.Effect[*User]{func(u *User, _ flow.Metadata, now time.Time) {
				u.SuspensionReason = ""
				if u.ActivatedAt == nil {
					u.ActivatedAt = stamp(now)
				}
			}},
		},
		UserSuspended: {
			guards: []flow.Guard[*User]{func(u *User, meta flow.Metadata, _ time.Time) error {
				return flow.Require(meta.Reason != "", "reason", "Suspension reason required")
			}},
			effects: []flow.Effect[*User]{func(u *User, meta flow.Metadata, now time.Time) {
				u.SuspensionReason = meta.Reason
				u.SuspendedAt = stamp(now)
			}},
		},
		UserDeleted: {effects: []flow.Effect[*User]{func(u *User, _ flow.Metadata, now time.Time) {
			u.DeletedAt = stamp(now)
		}}},
	},
}.compile()

func UserTable() *flow.CompiledTable[*User, UserStatus] { return userTable }
