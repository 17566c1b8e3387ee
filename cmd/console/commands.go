package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const commandHelp = `Commands:
• dmg <id> <amount> [type]   - Damage a character
• heal <id> <amount>         - Heal a character
• init <id> <value>          - Record an initiative roll
• cond <id> <name>           - Apply a condition
• uncond <id> <name>         - Remove a condition
• cast <id> <level> <spell>  - Cast a spell
• next | round [n] | end     - Advance turn, start round, end combat
• help                       - Show this help

Keys (command line closed):
• n: next turn  • r: new round  • e: end combat
• y: copy session id  • : or Enter: open command line  • q: quit`

var errHelp = errors.New("help requested")

// parseCommand turns a command line into a raw event payload.
func parseCommand(line string) (map[string]any, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	verb := strings.ToLower(fields[0])
	args := fields[1:]

	switch verb {
	case "help", "?":
		return nil, errHelp
	case "next", "n":
		return map[string]any{"type": "turn_advance"}, nil
	case "end":
		return map[string]any{"type": "combat_end"}, nil
	case "round":
		raw := map[string]any{"type": "round_start"}
		if len(args) > 0 {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return nil, fmt.Errorf("round number must be an integer: %q", args[0])
			}
			raw["roundNumber"] = n
		}
		return raw, nil
	case "dmg", "damage", "heal", "init":
		if len(args) < 2 {
			return nil, fmt.Errorf("usage: %s <id> <n>", verb)
		}
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return nil, fmt.Errorf("%s: %q is not a number", verb, args[1])
		}
		switch verb {
		case "heal":
			return map[string]any{"type": "healing", "characterId": characterArg(args[0]), "amount": n}, nil
		case "init":
			return map[string]any{"type": "initiative_roll", "characterId": characterArg(args[0]), "initiativeValue": n}, nil
		}
		raw := map[string]any{"type": "damage", "characterId": characterArg(args[0]), "amount": n}
		if len(args) > 2 {
			raw["damageType"] = strings.Join(args[2:], " ")
		}
		return raw, nil
	case "cond", "uncond":
		if len(args) < 2 {
			return nil, fmt.Errorf("usage: %s <id> <name>", verb)
		}
		eventType := "status_condition_applied"
		if verb == "uncond" {
			eventType = "status_condition_removed"
		}
		return map[string]any{
			"type":          eventType,
			"characterId":   characterArg(args[0]),
			"conditionName": strings.Join(args[1:], " "),
		}, nil
	case "cast":
		if len(args) < 3 {
			return nil, fmt.Errorf("usage: cast <id> <level> <spell>")
		}
		level, err := strconv.Atoi(args[1])
		if err != nil {
			return nil, fmt.Errorf("cast: %q is not a spell level", args[1])
		}
		return map[string]any{
			"type":        "spell_cast",
			"characterId": characterArg(args[0]),
			"spellLevel":  level,
			"spellName":   strings.Join(args[2:], " "),
		}, nil
	default:
		return nil, fmt.Errorf("unknown command %q (try help)", verb)
	}
}

// characterArg keeps numeric ids numeric so they match the roster.
func characterArg(s string) any {
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return s
}
