package discord

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stellarlinkco/circlebot/internal/circle"
	"github.com/stellarlinkco/circlebot/internal/config"
	"github.com/stellarlinkco/circlebot/internal/directory"
)

const (
	testGuild       = "900000000000000001"
	testJoinChannel = "900000000000000002"
	testCategory    = "900000000000000003"
)

type sentMessage struct {
	channel string
	content string
	complex *discordgo.MessageSend
}

// fakeSession is an in-memory guild.
type fakeSession struct {
	mu sync.Mutex

	members      map[string]*discordgo.Member
	users        map[string]*discordgo.User
	roles        []*discordgo.Role
	history      []*discordgo.Message
	sent         []sentMessage
	deleted      []string
	deletedRoles []string
	channels     []discordgo.GuildChannelCreateData
	responses    []*discordgo.InteractionResponse
	edits        []string
	commands     []*discordgo.ApplicationCommand
	watching     string
	nextID       int

	fail map[string]error
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		members: make(map[string]*discordgo.Member),
		users:   make(map[string]*discordgo.User),
		fail:    make(map[string]error),
		nextID:  100,
	}
}

var errDiscordDown = errors.New("discord: 503 Service Unavailable")

func (f *fakeSession) addMember(id, name string, roles ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := &discordgo.User{ID: id, Username: name}
	f.users[id] = u
	f.members[id] = &discordgo.Member{User: u, Roles: roles}
}

func (f *fakeSession) failing(method string) error {
	return f.fail[method]
}

func (f *fakeSession) id() string {
	f.nextID++
	return fmt.Sprintf("%d", f.nextID)
}

func (f *fakeSession) memberRoles(id string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.members[id]
	if !ok {
		return nil
	}
	return slices.Clone(m.Roles)
}

func (f *fakeSession) User(userID string, _ ...discordgo.RequestOption) (*discordgo.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failing("User"); err != nil {
		return nil, err
	}
	u, ok := f.users[userID]
	if !ok {
		return nil, fmt.Errorf("unknown user %s", userID)
	}
	return u, nil
}

func (f *fakeSession) GuildMember(_, userID string, _ ...discordgo.RequestOption) (*discordgo.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failing("GuildMember"); err != nil {
		return nil, err
	}
	m, ok := f.members[userID]
	if !ok {
		return nil, fmt.Errorf("unknown member %s", userID)
	}
	cp := *m
	cp.Roles = slices.Clone(m.Roles)
	return &cp, nil
}

func (f *fakeSession) GuildMembers(_, after string, limit int, _ ...discordgo.RequestOption) ([]*discordgo.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failing("GuildMembers"); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(f.members))
	for id := range f.members {
		if id > after {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]*discordgo.Member, 0, len(ids))
	for _, id := range ids {
		out = append(out, f.members[id])
	}
	return out, nil
}

func (f *fakeSession) GuildMemberRoleAdd(_, userID, roleID string, _ ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failing("GuildMemberRoleAdd"); err != nil {
		return err
	}
	m, ok := f.members[userID]
	if !ok {
		return fmt.Errorf("unknown member %s", userID)
	}
	if !slices.Contains(m.Roles, roleID) {
		m.Roles = append(m.Roles, roleID)
	}
	return nil
}

func (f *fakeSession) GuildMemberRoleRemove(_, userID, roleID string, _ ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failing("GuildMemberRoleRemove"); err != nil {
		return err
	}
	m, ok := f.members[userID]
	if !ok {
		return fmt.Errorf("unknown member %s", userID)
	}
	m.Roles = slices.DeleteFunc(m.Roles, func(r string) bool { return r == roleID })
	return nil
}

func (f *fakeSession) GuildRoles(_ string, _ ...discordgo.RequestOption) ([]*discordgo.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failing("GuildRoles"); err != nil {
		return nil, err
	}
	return slices.Clone(f.roles), nil
}

func (f *fakeSession) GuildRoleCreate(_ string, data *discordgo.RoleParams, _ ...discordgo.RequestOption) (*discordgo.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failing("GuildRoleCreate"); err != nil {
		return nil, err
	}
	role := &discordgo.Role{ID: f.id(), Name: data.Name}
	if data.Color != nil {
		role.Color = *data.Color
	}
	if data.Mentionable != nil {
		role.Mentionable = *data.Mentionable
	}
	f.roles = append(f.roles, role)
	return role, nil
}

func (f *fakeSession) GuildRoleDelete(_, roleID string, _ ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedRoles = append(f.deletedRoles, roleID)
	f.roles = slices.DeleteFunc(f.roles, func(r *discordgo.Role) bool { return r.ID == roleID })
	return nil
}

func (f *fakeSession) GuildChannelCreateComplex(_ string, data discordgo.GuildChannelCreateData, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failing("GuildChannelCreateComplex"); err != nil {
		return nil, err
	}
	f.channels = append(f.channels, data)
	return &discordgo.Channel{ID: f.id(), Name: data.Name, ParentID: data.ParentID}, nil
}

func (f *fakeSession) ChannelMessageSend(channelID, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failing("ChannelMessageSend"); err != nil {
		return nil, err
	}
	f.sent = append(f.sent, sentMessage{channel: channelID, content: content})
	return &discordgo.Message{ID: f.id(), ChannelID: channelID, Content: content}, nil
}

func (f *fakeSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failing("ChannelMessageSendComplex"); err != nil {
		return nil, err
	}
	f.sent = append(f.sent, sentMessage{channel: channelID, complex: data})
	return &discordgo.Message{ID: f.id(), ChannelID: channelID}, nil
}

func (f *fakeSession) ChannelMessages(_ string, limit int, _, _, _ string, _ ...discordgo.RequestOption) ([]*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failing("ChannelMessages"); err != nil {
		return nil, err
	}
	msgs := f.history
	if len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return slices.Clone(msgs), nil
}

func (f *fakeSession) ChannelMessageDelete(_, messageID string, _ ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failing("ChannelMessageDelete"); err != nil {
		return err
	}
	f.deleted = append(f.deleted, messageID)
	return nil
}

func (f *fakeSession) InteractionRespond(_ *discordgo.Interaction, resp *discordgo.InteractionResponse, _ ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, resp)
	return nil
}

func (f *fakeSession) InteractionResponseEdit(_ *discordgo.Interaction, edit *discordgo.WebhookEdit, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if edit.Content != nil {
		f.edits = append(f.edits, *edit.Content)
	}
	return &discordgo.Message{ID: f.id()}, nil
}

func (f *fakeSession) ApplicationCommandBulkOverwrite(_, _ string, commands []*discordgo.ApplicationCommand, _ ...discordgo.RequestOption) ([]*discordgo.ApplicationCommand, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failing("ApplicationCommandBulkOverwrite"); err != nil {
		return nil, err
	}
	f.commands = commands
	return commands, nil
}

func (f *fakeSession) UpdateWatchStatus(_ int, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failing("UpdateWatchStatus"); err != nil {
		return err
	}
	f.watching = name
	return nil
}

// memStore is an in-memory directory.Store.
type memStore struct {
	mu      sync.Mutex
	circles map[string]circle.Circle
}

func newMemStore(circles ...circle.Circle) *memStore {
	s := &memStore{circles: make(map[string]circle.Circle)}
	for _, c := range circles {
		s.circles[c.ID] = c
	}
	return s
}

func (s *memStore) ListAll(context.Context) ([]circle.Circle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]circle.Circle, 0, len(s.circles))
	for _, c := range s.circles {
		out = append(out, c)
	}
	return out, nil
}

func (s *memStore) Insert(_ context.Context, c circle.Circle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.circles[c.ID]; ok {
		return fmt.Errorf("duplicate id %s", c.ID)
	}
	s.circles[c.ID] = c
	return nil
}

func (s *memStore) Update(_ context.Context, id string, patch circle.Patch) (circle.Circle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.circles[id]
	if !ok {
		return circle.Circle{}, circle.ErrNotFound
	}
	c = patch.Apply(c)
	s.circles[id] = c
	return c, nil
}

func (s *memStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.circles, id)
	return nil
}

func chessClub() circle.Circle {
	return circle.Circle{
		ID:          "r1",
		Name:        "Chess Club",
		Description: "Weekly blitz",
		ImageURL:    "https://example.com/chess.png",
		Emoji:       "♟️",
		CreatedOn:   time.Date(2023, time.March, 4, 18, 0, 0, 0, time.UTC),
		Channel:     "700000000000000001",
		Owner:       "u-owner",
		SubChannels: []string{},
	}
}

func artClub() circle.Circle {
	return circle.Circle{
		ID:          "r2",
		Name:        "Art",
		Description: "Drawing nights",
		Emoji:       "🎨",
		CreatedOn:   time.Date(2022, time.October, 1, 0, 0, 0, 0, time.UTC),
		Channel:     "700000000000000002",
		Owner:       "u-owner",
		SubChannels: []string{},
	}
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Discord.Token = "token"
	cfg.Discord.GuildID = testGuild
	cfg.Discord.AppID = "app"
	cfg.Circles.JoinChannel = testJoinChannel
	cfg.Circles.ParentCategory = testCategory
	cfg.Circles.HeaderImage = "https://example.com/header.png"
	cfg.Circles.ApplyURL = "https://apply.example.com/circles"
	cfg.DiscordRate = config.RateConfig{}
	return cfg
}

// newTestDirectory returns a directory already recached from circles.
func newTestDirectory(circles ...circle.Circle) *directory.Service {
	dir := directory.NewService(newMemStore(circles...), nil)
	if _, err := dir.Recache(context.Background()); err != nil {
		panic(err)
	}
	return dir
}
