package policy

import (
	"errors"
	"testing"
)

func villager(village int64) Caller {
	return Caller{RealID: "V1", Role: RoleVillager, Scope: Resolve(RoleVillager, village, nil)}
}

func head(village int64) Caller {
	return Caller{RealID: "H1", Role: RoleHead, Scope: Resolve(RoleHead, village, nil)}
}

func super(villages ...int64) Caller {
	return Caller{RealID: "S1", Role: RoleSuper, Scope: Resolve(RoleSuper, 0, villages)}
}

func TestAuthorizeTable(t *testing.T) {
	cases := []struct {
		name    string
		caller  Caller
		entity  Entity
		op      Op
		allowed bool
	}{
		{"villager reads reports", villager(7), EntityReport, OpRead, true},
		{"villager creates report", villager(7), EntityReport, OpCreate, true},
		{"unassigned villager cannot create report", villager(0), EntityReport, OpCreate, false},
		{"villager cannot delete report", villager(7), EntityReport, OpDelete, false},
		{"villager cannot read notes", villager(7), EntityNote, OpRead, false},
		{"villager reads polygons", villager(7), EntityPolygon, OpRead, true},
		{"villager cannot write polygons", villager(7), EntityPolygon, OpCreate, false},
		{"villager reads announcements", villager(7), EntityAnnouncement, OpRead, true},
		{"villager cannot create announcement", villager(7), EntityAnnouncement, OpCreate, false},
		{"villager cannot update village status", villager(7), EntityVillage, OpUpdate, false},
		{"head reads reports", head(7), EntityReport, OpRead, true},
		{"head deletes report", head(7), EntityReport, OpDelete, true},
		{"head full note crud", head(7), EntityNote, OpCreate, true},
		{"head creates announcement", head(7), EntityAnnouncement, OpCreate, true},
		{"head updates village status", head(7), EntityVillage, OpUpdate, true},
		{"unassigned head cannot update status", head(0), EntityVillage, OpUpdate, false},
		{"super reads reports", super(7, 9), EntityReport, OpRead, true},
		{"super cannot create report", super(7, 9), EntityReport, OpCreate, false},
		{"super cannot delete sos", super(7, 9), EntitySOS, OpDelete, false},
		{"super creates announcement", super(7, 9), EntityAnnouncement, OpCreate, true},
		{"super cannot update village status", super(7, 9), EntityVillage, OpUpdate, false},
		{"super cannot write notes", super(7, 9), EntityNote, OpCreate, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Authorize(tc.caller, tc.entity, tc.op)
			if tc.allowed && err != nil {
				t.Fatalf("expected allow, got %v", err)
			}
			if !tc.allowed && !errors.Is(err, ErrAccessDenied) {
				t.Fatalf("expected ErrAccessDenied, got %v", err)
			}
		})
	}
}

func TestVillagerReadsOwnRecordsOnly(t *testing.T) {
	d, err := Authorize(villager(7), EntityReport, OpRead)
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if !d.OwnOnly {
		t.Fatal("expected own-only filter")
	}
	if !d.Matches("V1", "V1", 7) {
		t.Fatal("own record must be visible")
	}
	if d.Matches("V1", "V2", 7) {
		t.Fatal("another villager's record must not be visible, even same village")
	}
	if !d.Matches("V1", "V1", 9) {
		t.Fatal("own record in another village is still own")
	}
}

func TestHeadScopedToOwnVillage(t *testing.T) {
	d, err := Authorize(head(7), EntityReport, OpRead)
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if !d.Matches("H1", "V1", 7) {
		t.Fatal("head must see village records")
	}
	if d.Matches("H1", "V1", 9) {
		t.Fatal("head must not see other villages")
	}
}

func TestSuperEmptyScopeSeesNothing(t *testing.T) {
	d, err := Authorize(super(), EntitySOS, OpRead)
	if err != nil {
		t.Fatalf("empty scope must not be an error: %v", err)
	}
	if !d.Empty {
		t.Fatal("expected empty decision")
	}
	if d.Matches("S1", "V1", 7) {
		t.Fatal("no records may match an empty scope")
	}
}

func TestNarrowIntersectsOnly(t *testing.T) {
	d, err := Authorize(super(7, 9), EntitySOS, OpRead)
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}

	in := d.Narrow(7)
	if in.Empty || len(in.Villages) != 1 || in.Villages[0] != 7 {
		t.Fatalf("narrowing to in-scope village: %+v", in)
	}

	out := d.Narrow(12)
	if !out.Empty {
		t.Fatalf("narrowing to out-of-scope village must be empty: %+v", out)
	}
	if out.Matches("S1", "V1", 12) {
		t.Fatal("narrowing must never widen")
	}
}

func TestNarrowKeepsGlobalAnnouncements(t *testing.T) {
	d, err := Authorize(villager(7), EntityAnnouncement, OpRead)
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}

	in := d.Narrow(7)
	if !in.Matches("V1", "S1", 0) {
		t.Fatal("a village filter must still union in global announcements")
	}
	if !in.Matches("V1", "H1", 7) {
		t.Fatal("the requested village stays visible")
	}

	// Even a filter outside the caller's scope leaves globals visible; only
	// the village records drop out.
	out := d.Narrow(9)
	if !out.Matches("V1", "S1", 0) {
		t.Fatal("global announcements are visible regardless of filter")
	}
	if out.Matches("V1", "H1", 7) {
		t.Fatal("village records outside the filter must not be visible")
	}
}

func TestAnnouncementUnionsGlobal(t *testing.T) {
	d, err := Authorize(villager(7), EntityAnnouncement, OpRead)
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if !d.Matches("V1", "H1", 7) {
		t.Fatal("own-village announcement must be visible")
	}
	if !d.Matches("V1", "S1", 0) {
		t.Fatal("global announcement must be visible")
	}
	if d.Matches("V1", "H2", 9) {
		t.Fatal("other-village announcement must not be visible")
	}

	// Even an unassigned super still sees globals.
	empty, err := Authorize(super(), EntityAnnouncement, OpRead)
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if !empty.Matches("S1", "H1", 0) {
		t.Fatal("global announcements are visible to every role")
	}
	if empty.Matches("S1", "H1", 7) {
		t.Fatal("village announcements stay hidden without scope")
	}
}

func TestSuperAnnouncementTargeting(t *testing.T) {
	d, err := Authorize(super(7, 9), EntityAnnouncement, OpCreate)
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if !d.AllowsVillage(7) {
		t.Fatal("in-scope target must be allowed")
	}
	if d.AllowsVillage(12) {
		t.Fatal("out-of-scope target must be rejected")
	}
	if !d.AllowsVillage(0) {
		t.Fatal("untargeted announcement must be allowed")
	}
}

func TestParseRole(t *testing.T) {
	if r, err := ParseRole(" Head "); err != nil || r != RoleHead {
		t.Fatalf("ParseRole: %v %v", r, err)
	}
	if _, err := ParseRole("admin"); err == nil {
		t.Fatal("expected error for unknown role")
	}
}
