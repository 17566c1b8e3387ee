package combat

// Audit keys recorded on hit point events.
const (
	FieldPreviousHP = "previousHp"
	FieldCurrentHP  = "currentHp"
	FieldMaxHP      = "maxHp"
)

func damage(tx *Tx) error {
	return adjustHP(tx, -1)
}

func healing(tx *Tx) error {
	return adjustHP(tx, 1)
}

func adjustHP(tx *Tx, sign int) error {
	c, ok := tx.State.Character(tx.Character())
	if !ok {
		return tx.Reject(ErrCharacterNotInSession)
	}
	amount, _ := tx.Payload.Fields.Int("amount")

	prev := c.CurrentHP
	c.CurrentHP = clamp(c.CurrentHP+sign*amount, 0, c.MaxHP)
	tx.State.Characters[c.ID.String()] = c

	tx.Record(FieldPreviousHP, prev)
	tx.Record(FieldCurrentHP, c.CurrentHP)
	tx.Record(FieldMaxHP, c.MaxHP)
	return nil
}

func conditionApplied(tx *Tx) error {
	id := tx.Character()
	name, _ := tx.Payload.Fields.String("conditionName")
	key := nameKey(id, name)

	cond := StatusCondition{
		CharacterID: id,
		Name:        name,
		AppliedAt:   tx.Now,
		ExpiresAt:   expiry(tx.Now, tx.Payload.Fields),
	}
	if prior, ok := tx.State.Conditions[key]; ok {
		cond.Name = prior.Name
		tx.Record(FieldResolution, ResolutionReplaced)
	} else {
		tx.Record(FieldResolution, ResolutionCreated)
	}
	tx.State.Conditions[key] = cond
	return nil
}

func conditionRemoved(tx *Tx) error {
	name, _ := tx.Payload.Fields.String("conditionName")
	key := nameKey(tx.Character(), name)
	_, found := tx.State.Conditions[key]
	delete(tx.State.Conditions, key)
	tx.Record(FieldRemoved, found)
	return nil
}

// FieldSlotsUsed records the counter value after a levelled spell.
const FieldSlotsUsed = "slotsUsed"

func spellCast(tx *Tx) error {
	id := tx.Character()
	level, _ := tx.Payload.Fields.Int("spellLevel")
	if level == 0 {
		return nil
	}
	key := slotKey(id, level)
	counter, ok := tx.State.SpellSlots[key]
	if !ok {
		counter = SpellSlotCounter{CharacterID: id, SpellLevel: level}
	}
	counter.SlotsUsed++
	tx.State.SpellSlots[key] = counter
	tx.Record(FieldSlotsUsed, counter.SlotsUsed)
	return nil
}
