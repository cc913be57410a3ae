package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"

	"github.com/cory-johannsen/gymguild/internal/game/progression"
	"github.com/cory-johannsen/gymguild/internal/game/quest"
	"github.com/cory-johannsen/gymguild/internal/game/raid"
	"github.com/cory-johannsen/gymguild/internal/guild"
)

var commands = map[string]command{
	"rules":       {"list races, classes and quest types", runRules},
	"character":   {"-user -name -race -class: create a character", runCharacter},
	"profile":     {"-user: show a character and its level progress", runProfile},
	"grant":       {"-user -amount [-desc]: apply an xp adjustment", runGrant},
	"history":     {"-user: list xp ledger rows", runHistory},
	"audit":       {"-user: compare cached xp with the ledger", runAudit},
	"quest":       {"-user -title -type [-difficulty] [-public]: create a quest", runQuest},
	"quests":      {"-user: list a user's quests", runQuests},
	"complete":    {"-user -quest [-proof]: complete a quest", runComplete},
	"abandon":     {"-user -quest: abandon a quest", runAbandon},
	"feed":        {"-user [-limit]: list other users' public quests", runFeed},
	"support":     {"-user -quest -emoji: react to someone else's public quest", runSupport},
	"raid":        {"-title -boss -health [-xp] [-bonus] [-starts] [-duration]: create a raid", runRaid},
	"join":        {"-raid -user: join a raid", runJoin},
	"contribute":  {"-raid -user -desc [-proof]: log a raid contribution", runContribute},
	"standings":   {"-raid: show boss health and participants by damage", runStandings},
	"sweep":       {"advance raid statuses once", runSweep},
	"leaderboard": {"[-limit]: top characters by xp", runLeaderboard},
}

func parseID(label, s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s %q: %w", label, s, err)
	}
	return id, nil
}

func runRules(_ context.Context, e *env, _ []string) error {
	rules := e.svc.Rules()
	w := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KIND\tID\tNAME\tDETAIL")
	for _, r := range rules.Races() {
		fmt.Fprintf(w, "race\t%s\t%s\t%v\n", r.ID, r.Name, r.Bonuses)
	}
	for _, c := range rules.Classes() {
		fmt.Fprintf(w, "class\t%s\t%s\t%v\n", c.ID, c.Name, c.Bonuses)
	}
	for _, q := range rules.QuestTypes() {
		fmt.Fprintf(w, "quest_type\t%s\t%s\tbase_xp=%d\n", q.ID, q.Name, q.BaseXP)
	}
	return w.Flush()
}

func runCharacter(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("character")
	user := fs.String("user", "", "user id")
	name := fs.String("name", "", "character name")
	race := fs.String("race", "", "race id")
	class := fs.String("class", "", "class id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required(fs, "user", "name", "race", "class"); err != nil {
		return err
	}
	userID, err := parseID("user", *user)
	if err != nil {
		return err
	}
	c, _, err := e.svc.CreateCharacter(ctx, userID, *name, *race, *class)
	if err != nil {
		return err
	}
	a := c.Attributes
	fmt.Fprintf(e.out, "created %s the %s %s (str %d, agi %d, con %d, wis %d)\n",
		c.Name, c.Race, c.Class, a.Strength, a.Agility, a.Constitution, a.Wisdom)
	return nil
}

func userFlag(name string, args []string) (uuid.UUID, error) {
	fs := newFlagSet(name)
	user := fs.String("user", "", "user id")
	if err := fs.Parse(args); err != nil {
		return uuid.Nil, err
	}
	if err := required(fs, "user"); err != nil {
		return uuid.Nil, err
	}
	return parseID("user", *user)
}

func runProfile(ctx context.Context, e *env, args []string) error {
	userID, err := userFlag("profile", args)
	if err != nil {
		return err
	}
	p, err := e.svc.Profile(ctx, userID)
	if err != nil {
		return err
	}
	pr := p.Progress
	fmt.Fprintf(e.out, "%s (%s %s)\nlevel %d %s, %d xp, %d/%d to next (%.0f%%)\n",
		p.Character.Name, p.Character.Race, p.Character.Class,
		pr.Level, pr.Title, pr.XP, pr.XPInLevel, pr.XPNeeded, pr.Percent)
	return nil
}

func runGrant(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("grant")
	user := fs.String("user", "", "user id")
	amount := fs.Int("amount", 0, "xp to grant")
	desc := fs.String("desc", "manual adjustment", "ledger description")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required(fs, "user"); err != nil {
		return err
	}
	userID, err := parseID("user", *user)
	if err != nil {
		return err
	}
	res, _, err := e.svc.GrantXP(ctx, progression.Grant{UserID: userID, Amount: *amount, Description: *desc})
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "xp %d -> %d, level %d -> %d\n", res.PreviousXP, res.NewXP, res.PreviousLevel, res.NewLevel)
	return nil
}

func runHistory(ctx context.Context, e *env, args []string) error {
	userID, err := userFlag("history", args)
	if err != nil {
		return err
	}
	rows, err := e.svc.History(ctx, userID)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "WHEN\tAMOUNT\tSOURCE\tDESCRIPTION")
	for _, r := range rows {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", r.CreatedAt.Format(time.RFC3339), r.Amount, r.Source, r.Description)
	}
	return w.Flush()
}

func runAudit(ctx context.Context, e *env, args []string) error {
	userID, err := userFlag("audit", args)
	if err != nil {
		return err
	}
	r, err := e.svc.Audit(ctx, userID)
	if err != nil {
		return err
	}
	state := "consistent"
	if !r.Consistent() {
		state = "MISMATCH"
	}
	fmt.Fprintf(e.out, "%s: cached xp %d, ledger xp %d, cached level %d, expected level %d\n",
		state, r.CachedXP, r.LedgerXP, r.CachedLevel, r.ExpectedLevel)
	return nil
}

func runQuest(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("quest")
	user := fs.String("user", "", "creator user id")
	title := fs.String("title", "", "quest title")
	desc := fs.String("desc", "", "quest description")
	qtype := fs.String("type", "", "quest type id")
	difficulty := fs.String("difficulty", "", "difficulty id; empty selects the default")
	public := fs.Bool("public", false, "make the quest public")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required(fs, "user", "title", "type"); err != nil {
		return err
	}
	userID, err := parseID("user", *user)
	if err != nil {
		return err
	}
	q, _, err := e.svc.CreateQuest(ctx, userID, quest.Draft{
		Title:       *title,
		Description: *desc,
		QuestType:   *qtype,
		Difficulty:  *difficulty,
		IsPublic:    *public,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "quest %s %q worth %d xp\n", q.ID, q.Title, q.XPReward)
	return nil
}

func runQuests(ctx context.Context, e *env, args []string) error {
	userID, err := userFlag("quests", args)
	if err != nil {
		return err
	}
	qs, err := e.svc.Quests(ctx, userID)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tTYPE\tDIFFICULTY\tXP\tSTATUS")
	for _, q := range qs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n", q.ID, q.Title, q.QuestType, q.Difficulty, q.XPReward, q.Status)
	}
	return w.Flush()
}

func questArgs(name string, args []string, withProof bool) (userID, questID uuid.UUID, proof string, err error) {
	fs := newFlagSet(name)
	user := fs.String("user", "", "user id")
	qid := fs.String("quest", "", "quest id")
	p := new(string)
	if withProof {
		p = fs.String("proof", "", "proof image url")
	}
	if err = fs.Parse(args); err != nil {
		return
	}
	if err = required(fs, "user", "quest"); err != nil {
		return
	}
	if userID, err = parseID("user", *user); err != nil {
		return
	}
	if questID, err = parseID("quest", *qid); err != nil {
		return
	}
	return userID, questID, *p, nil
}

func runComplete(ctx context.Context, e *env, args []string) error {
	userID, questID, proof, err := questArgs("complete", args, true)
	if err != nil {
		return err
	}
	done, _, err := e.svc.CompleteQuest(ctx, userID, questID, proof)
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "completed %q: +%d xp (total %d, level %d)\n",
		done.Quest.Title, done.Quest.XPReward, done.XP.NewXP, done.XP.NewLevel)
	return nil
}

func runAbandon(ctx context.Context, e *env, args []string) error {
	userID, questID, _, err := questArgs("abandon", args, false)
	if err != nil {
		return err
	}
	q, _, err := e.svc.AbandonQuest(ctx, userID, questID)
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "abandoned %q\n", q.Title)
	return nil
}

func runFeed(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("feed")
	user := fs.String("user", "", "viewer user id")
	limit := fs.Int("limit", 0, "rows to show; 0 uses the default")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required(fs, "user"); err != nil {
		return err
	}
	viewer, err := parseID("user", *user)
	if err != nil {
		return err
	}
	qs, err := e.svc.PublicQuests(ctx, viewer, *limit)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCREATOR\tTITLE\tTYPE\tXP\tSTATUS")
	for _, q := range qs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n", q.ID, q.CreatorID, q.Title, q.QuestType, q.XPReward, q.Status)
	}
	return w.Flush()
}

func runSupport(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("support")
	user := fs.String("user", "", "supporter user id")
	qid := fs.String("quest", "", "quest id")
	emoji := fs.String("emoji", "", "one of "+strings.Join(quest.SupportEmojis, " "))
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required(fs, "user", "quest", "emoji"); err != nil {
		return err
	}
	userID, err := parseID("user", *user)
	if err != nil {
		return err
	}
	questID, err := parseID("quest", *qid)
	if err != nil {
		return err
	}
	res, _, err := e.svc.SupportQuest(ctx, questID, userID, *emoji)
	if err != nil {
		return err
	}
	verb := "updated"
	if res.Created {
		verb = "sent"
	}
	fmt.Fprintf(e.out, "%s support %s on quest %s\n", verb, res.Support.Emoji, questID)
	return nil
}

func runRaid(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("raid")
	title := fs.String("title", "", "raid title")
	desc := fs.String("desc", "", "raid description")
	boss := fs.String("boss", "", "boss name")
	image := fs.String("image", "", "boss image url")
	health := fs.Int("health", 0, "boss max health")
	xp := fs.Int("xp", 0, "xp per contribution")
	bonus := fs.Int("bonus", 0, "completion bonus xp")
	starts := fs.String("starts", "", "start time (RFC3339); empty starts now")
	duration := fs.Duration("duration", 7*24*time.Hour, "raid length")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required(fs, "title", "boss"); err != nil {
		return err
	}
	startsAt := time.Now().UTC()
	if *starts != "" {
		t, err := time.Parse(time.RFC3339, *starts)
		if err != nil {
			return fmt.Errorf("invalid -starts %q: %w", *starts, err)
		}
		startsAt = t.UTC()
	}
	r, _, err := e.svc.CreateRaid(ctx, raid.Draft{
		Title:             *title,
		Description:       *desc,
		BossName:          *boss,
		BossImageURL:      *image,
		BossMaxHealth:     *health,
		XPPerContribution: *xp,
		CompletionBonusXP: *bonus,
		StartsAt:          startsAt,
		EndsAt:            startsAt.Add(*duration),
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "raid %s %q against %s (%d hp) is %s\n", r.ID, r.Title, r.BossName, r.BossMaxHealth, r.Status)
	return nil
}

func raidUserArgs(name string, args []string) (*flagValues, error) {
	fs := newFlagSet(name)
	v := &flagValues{}
	fs.StringVar(&v.raid, "raid", "", "raid id")
	fs.StringVar(&v.user, "user", "", "user id")
	fs.StringVar(&v.desc, "desc", "", "what was done")
	fs.StringVar(&v.proof, "proof", "", "proof image url")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if err := required(fs, "raid", "user"); err != nil {
		return nil, err
	}
	var err error
	if v.raidID, err = parseID("raid", v.raid); err != nil {
		return nil, err
	}
	if v.userID, err = parseID("user", v.user); err != nil {
		return nil, err
	}
	return v, nil
}

type flagValues struct {
	raid, user, desc, proof string
	raidID, userID          uuid.UUID
}

func runJoin(ctx context.Context, e *env, args []string) error {
	v, err := raidUserArgs("join", args)
	if err != nil {
		return err
	}
	res, _, err := e.svc.JoinRaid(ctx, v.raidID, v.userID)
	if err != nil {
		return err
	}
	if res.Joined {
		fmt.Fprintf(e.out, "joined raid %s\n", v.raidID)
	} else {
		fmt.Fprintf(e.out, "already in raid %s\n", v.raidID)
	}
	return nil
}

func runContribute(ctx context.Context, e *env, args []string) error {
	v, err := raidUserArgs("contribute", args)
	if err != nil {
		return err
	}
	res, _, err := e.svc.Contribute(ctx, guild.ContributeRequest{
		RaidID:        v.raidID,
		UserID:        v.userID,
		Description:   v.desc,
		ProofImageURL: v.proof,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "dealt %d damage: boss %d -> %d\n", res.Damage, res.BossHealthBefore, res.BossHealthAfter)
	if res.Defeated {
		fmt.Fprintf(e.out, "boss defeated! %d participants rewarded\n", len(res.VictoryGrants))
	}
	return nil
}

func runStandings(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("standings")
	rid := fs.String("raid", "", "raid id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required(fs, "raid"); err != nil {
		return err
	}
	raidID, err := parseID("raid", *rid)
	if err != nil {
		return err
	}
	st, err := e.svc.Standings(ctx, raidID)
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "%s vs %s: %d/%d hp (%.0f%%), %s\n",
		st.Raid.Title, st.Raid.BossName, st.Raid.BossCurrentHealth, st.Raid.BossMaxHealth,
		st.Raid.HealthPercent(), st.Status)
	w := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tUSER\tDAMAGE\tHITS")
	for i, p := range st.Participants {
		fmt.Fprintf(w, "%d\t%s\t%d\t%d\n", i+1, p.UserID, p.DamageDealt, p.ContributionCount)
	}
	return w.Flush()
}

func runSweep(ctx context.Context, e *env, _ []string) error {
	changes, _, err := e.svc.SweepRaids(ctx)
	for _, c := range changes {
		fmt.Fprintf(e.out, "raid %s: %s -> %s\n", c.RaidID, c.From, c.To)
	}
	if err != nil {
		return err
	}
	if len(changes) == 0 {
		fmt.Fprintln(e.out, "no raid status changes")
	}
	return nil
}

func runLeaderboard(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("leaderboard")
	limit := fs.Int("limit", 0, "rows to show; 0 uses the configured default")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rows, err := e.svc.Leaderboard(ctx, *limit)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tNAME\tLEVEL\tTITLE\tXP")
	for _, r := range rows {
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%d\n", r.Rank, r.Character.Name, r.Character.Level, r.Title, r.Character.XP)
	}
	return w.Flush()
}
