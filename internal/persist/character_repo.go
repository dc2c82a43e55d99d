package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/CCasusensa/kinoko-sub000/internal/world"
)

var ErrCharacterNotFound = errors.New("persist: character not found")

// CharacterRepo loads a character at migrate-in and writes the whole
// state back on save. Inventory, skills and quests live in jsonb
// columns; the stat block gets real columns so tooling can query it.
type CharacterRepo struct {
	pool *pgxpool.Pool
}

func NewCharacterRepo(pool *pgxpool.Pool) *CharacterRepo {
	return &CharacterRepo{pool: pool}
}

type invItemJSON struct {
	ItemID   int32 `json:"item_id"`
	Quantity int32 `json:"qty"`
}

type inventoryJSON struct {
	// tab -> slot -> stack, both keys as decimal strings.
	Tabs map[string]map[string]invItemJSON `json:"tabs"`
}

type skillJSON struct {
	Level int `json:"level"`
}

type questJSON struct {
	State    int    `json:"state"`
	Progress string `json:"progress"`
}

// Load reads one character, verifying it belongs to the account.
func (r *CharacterRepo) Load(ctx context.Context, accountID, characterID int32) (*world.CharacterData, error) {
	var (
		cd        world.CharacterData
		portal    int16
		meso      int32
		invRaw    []byte
		skillsRaw []byte
		questsRaw []byte
	)
	err := r.pool.QueryRow(ctx,
		`SELECT id, account_id, name, level, job, str, dex, intl, luk,
		        hp, max_hp, mp, max_mp, ap, sp, exp, pop, field_id, portal,
		        meso, inventory, skills, quests
		 FROM characters WHERE id = $1 AND account_id = $2`,
		characterID, accountID).Scan(
		&cd.ID, &cd.AccountID, &cd.Name,
		&cd.Stat.Level, &cd.Stat.Job, &cd.Stat.Str, &cd.Stat.Dex, &cd.Stat.Int, &cd.Stat.Luk,
		&cd.Stat.HP, &cd.Stat.MaxHP, &cd.Stat.MP, &cd.Stat.MaxMP,
		&cd.Stat.AP, &cd.Stat.SP, &cd.Stat.Exp, &cd.Stat.Pop,
		&cd.Stat.Field, &portal,
		&meso, &invRaw, &skillsRaw, &questsRaw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrCharacterNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select character %d: %w", characterID, err)
	}

	cd.Stat.Portal = byte(portal)
	cd.Inventory = world.NewInventory(96)
	cd.Inventory.Meso = meso
	cd.Skills = make(map[int32]*world.SkillRecord)
	cd.Quests = make(map[int32]*world.QuestRecord)
	cd.Cooldowns = make(map[int32]time.Time)

	var inv inventoryJSON
	if len(invRaw) > 0 {
		if err := json.Unmarshal(invRaw, &inv); err != nil {
			return nil, fmt.Errorf("decode character %d inventory: %w", characterID, err)
		}
	}
	for tabKey, slots := range inv.Tabs {
		tab, err := strconv.Atoi(tabKey)
		if err != nil {
			continue
		}
		for slotKey, it := range slots {
			slot, err := strconv.Atoi(slotKey)
			if err != nil {
				continue
			}
			cd.Inventory.Set(tab, int16(slot), &world.Item{ItemID: it.ItemID, Quantity: it.Quantity})
		}
	}

	var skills map[string]skillJSON
	if len(skillsRaw) > 0 {
		if err := json.Unmarshal(skillsRaw, &skills); err != nil {
			return nil, fmt.Errorf("decode character %d skills: %w", characterID, err)
		}
	}
	for idKey, sr := range skills {
		id, err := strconv.Atoi(idKey)
		if err != nil {
			continue
		}
		cd.Skills[int32(id)] = &world.SkillRecord{SkillID: int32(id), Level: sr.Level}
	}

	var quests map[string]questJSON
	if len(questsRaw) > 0 {
		if err := json.Unmarshal(questsRaw, &quests); err != nil {
			return nil, fmt.Errorf("decode character %d quests: %w", characterID, err)
		}
	}
	for idKey, qr := range quests {
		id, err := strconv.Atoi(idKey)
		if err != nil {
			continue
		}
		cd.Quests[int32(id)] = &world.QuestRecord{
			QuestID:  int32(id),
			State:    world.QuestState(qr.State),
			Progress: qr.Progress,
		}
	}

	return &cd, nil
}

// Save writes the whole character state back in one statement.
func (r *CharacterRepo) Save(ctx context.Context, cd *world.CharacterData) error {
	inv := inventoryJSON{Tabs: make(map[string]map[string]invItemJSON)}
	cd.Inventory.ForEach(func(tab int, slot int16, item *world.Item) {
		tabKey := strconv.Itoa(tab)
		if inv.Tabs[tabKey] == nil {
			inv.Tabs[tabKey] = make(map[string]invItemJSON)
		}
		inv.Tabs[tabKey][strconv.Itoa(int(slot))] = invItemJSON{ItemID: item.ItemID, Quantity: item.Quantity}
	})
	invRaw, err := json.Marshal(inv)
	if err != nil {
		return fmt.Errorf("encode character %d inventory: %w", cd.ID, err)
	}

	skills := make(map[string]skillJSON, len(cd.Skills))
	for id, sr := range cd.Skills {
		skills[strconv.Itoa(int(id))] = skillJSON{Level: sr.Level}
	}
	skillsRaw, err := json.Marshal(skills)
	if err != nil {
		return fmt.Errorf("encode character %d skills: %w", cd.ID, err)
	}

	quests := make(map[string]questJSON, len(cd.Quests))
	for id, qr := range cd.Quests {
		quests[strconv.Itoa(int(id))] = questJSON{State: int(qr.State), Progress: qr.Progress}
	}
	questsRaw, err := json.Marshal(quests)
	if err != nil {
		return fmt.Errorf("encode character %d quests: %w", cd.ID, err)
	}

	tag, err := r.pool.Exec(ctx,
		`UPDATE characters SET
		    level = $2, job = $3, str = $4, dex = $5, intl = $6, luk = $7,
		    hp = $8, max_hp = $9, mp = $10, max_mp = $11, ap = $12, sp = $13,
		    exp = $14, pop = $15, field_id = $16, portal = $17,
		    meso = $18, inventory = $19, skills = $20, quests = $21,
		    updated_at = now()
		 WHERE id = $1`,
		cd.ID,
		cd.Stat.Level, cd.Stat.Job, cd.Stat.Str, cd.Stat.Dex, cd.Stat.Int, cd.Stat.Luk,
		cd.Stat.HP, cd.Stat.MaxHP, cd.Stat.MP, cd.Stat.MaxMP, cd.Stat.AP, cd.Stat.SP,
		cd.Stat.Exp, cd.Stat.Pop, cd.Stat.Field, cd.Stat.Portal,
		cd.Inventory.Meso, invRaw, skillsRaw, questsRaw)
	if err != nil {
		return fmt.Errorf("update character %d: %w", cd.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCharacterNotFound
	}
	return nil
}

// Create inserts a fresh character and returns it with its id.
func (r *CharacterRepo) Create(ctx context.Context, accountID int32, name string) (*world.CharacterData, error) {
	var id int32
	err := r.pool.QueryRow(ctx,
		`INSERT INTO characters (account_id, name) VALUES ($1, $2) RETURNING id`,
		accountID, name).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("insert character %q: %w", name, err)
	}
	cd := world.NewCharacterData(id, accountID, name)
	cd.Stat.Level = 1
	cd.Stat.HP, cd.Stat.MaxHP = 50, 50
	cd.Stat.MP, cd.Stat.MaxMP = 5, 5
	cd.Stat.Field = 10000
	return cd, nil
}
