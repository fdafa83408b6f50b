package battle

import "fmt"

// Display step names. Player-prefixed names are built by the helpers below.
const (
	StepNavalBombardment        = "Naval bombardment"
	StepSelectBombardCasualties = "Select bombardment casualties"
	StepSuicideAttack           = "Suicide attack"
	StepSuicideDefend           = "Suicide defend"
	StepLandParatroops          = "Land paratroops"
	StepRemoveUnescorted        = "Remove unescorted transports"
	StepRemoveSneakCasualties   = "Remove sneak attack casualties"
	StepSubmergeSubsVsAirOnly   = "Submerge subs against air only"
	StepAirAttackNonSubs        = "Air attack non subs"
	StepAirDefendNonSubs        = "Air defend non subs"
	StepRemoveCasualties        = "Remove casualties"
)

func stepAAFire(p Player, aaType string) string { return fmt.Sprintf("%s %s AA fire", p, aaType) }
func stepSelectAA(p Player, aaType string) string {
	return fmt.Sprintf("%s select %s casualties", p, aaType)
}
func stepRemoveAA(p Player, aaType string) string {
	return fmt.Sprintf("%s remove %s casualties", p, aaType)
}
func stepSelectSuicide(p Player) string       { return string(p) + " select suicide casualties" }
func stepSubsSubmerge(p Player) string        { return string(p) + " submerge subs" }
func stepSubsWithdraw(p Player) string        { return string(p) + " withdraw subs?" }
func stepSubsFire(p Player) string            { return string(p) + " subs fire" }
func stepSelectSubCasualties(p Player) string { return string(p) + " select sub casualties" }
func stepFire(p Player) string                { return string(p) + " fire" }
func stepSelectCasualties(p Player) string    { return string(p) + " select casualties" }
func stepAttackerWithdraw(p Player) string    { return string(p) + " withdraw?" }

// Step kinds of the dispatch table.
const (
	kindFireAA               StepKind = "fire_aa"
	kindClearWaitingToDie    StepKind = "clear_waiting_to_die"
	kindRemoveNonCombatants  StepKind = "remove_non_combatants"
	kindBombard              StepKind = "bombard"
	kindSuicideAttack        StepKind = "suicide_attack"
	kindSuicideDefend        StepKind = "suicide_defend"
	kindLandParatroops       StepKind = "land_paratroops"
	kindMarkNoMovement       StepKind = "mark_no_movement"
	kindSubRetreatBefore     StepKind = "sub_retreat_before_battle"
	kindCheckSuicide         StepKind = "check_suicide"
	kindCheckTransports      StepKind = "check_undefended_transports"
	kindSubmergeVsAir        StepKind = "submerge_subs_vs_air"
	kindAttackSubs           StepKind = "attack_subs"
	kindDefendSubs           StepKind = "defend_subs"
	kindAttackAirNonSubs     StepKind = "attack_air_non_subs"
	kindAttackNonSubs        StepKind = "attack_non_subs"
	kindDefendAirNonSubs     StepKind = "defend_air_non_subs"
	kindDefendNonSubs        StepKind = "defend_non_subs"
	kindEndCheck             StepKind = "end_check"
	kindAttackerSubRetreat   StepKind = "attacker_sub_retreat"
	kindDefenderSubRetreat   StepKind = "defender_sub_retreat"
	kindPlanesRetreat        StepKind = "planes_retreat"
	kindPartialAmphibRetreat StepKind = "partial_amphibious_retreat"
	kindAttackerRetreat      StepKind = "attacker_retreat"
	kindNextRound            StepKind = "next_round"
	kindLoop                 StepKind = "loop"

	kindFireRoll    StepKind = "fire_roll"
	kindFireSelect  StepKind = "fire_select"
	kindFireNotify  StepKind = "fire_notify"
	kindFireConfirm StepKind = "fire_confirm"
)

// DetermineStepStrings lists the display steps of the coming round. It reads
// only the battle state, the map and the rules.
func (b *MustFightBattle) DetermineStepStrings(firstRun bool) []string {
	s := &b.State
	m := b.m
	water := m.IsWater(s.Site)
	att, def := s.Attacker, s.Defender
	var steps []string

	for _, aa := range s.OffensiveAATypes {
		steps = append(steps, stepAAFire(att, aa), stepSelectAA(def, aa), stepRemoveAA(def, aa))
	}
	for _, aa := range s.DefensiveAATypes {
		steps = append(steps, stepAAFire(def, aa), stepSelectAA(att, aa), stepRemoveAA(att, aa))
	}
	if firstRun {
		if !water && len(b.bombardingUnits()) > 0 {
			steps = append(steps, StepNavalBombardment, StepSelectBombardCasualties)
		}
		if anyUnit(m, s.Attacking, isSuicide) {
			steps = append(steps, StepSuicideAttack, stepSelectSuicide(def))
		}
		if anyUnit(m, s.Defending, isSuicide) && !b.rules.DefendingSuicideAndMunitionUnitsDoNotFire {
			steps = append(steps, StepSuicideDefend, stepSelectSuicide(att))
		}
		if !water && m.Tech(att).AirTransportable && len(b.paratroopers()) > 0 {
			steps = append(steps, StepLandParatroops)
		}
	}
	if b.rules.SubRetreatBeforeBattle {
		if !anyUnit(m, s.Defending, isDestroyer) && anyUnit(m, s.Attacking, isSub) {
			steps = append(steps, stepSubsSubmerge(att))
		}
		if !anyUnit(m, s.Attacking, isDestroyer) && anyUnit(m, s.Defending, isSub) {
			steps = append(steps, stepSubsSubmerge(def))
		}
	}
	if water && b.rules.TransportCasualtiesRestricted {
		if anyUnit(m, s.Attacking, isNonCombatTransport) || anyUnit(m, s.Defending, isNonCombatTransport) {
			steps = append(steps, StepRemoveUnescorted)
		}
	}

	rfAtt, rfDef := b.returnFireAgainstAttackingSubs(), b.returnFireAgainstDefendingSubs()
	dsff := b.defenderSubsFireFirst()
	if dsff && anyUnit(m, s.Defending, isSub) {
		steps = append(steps, stepSubsFire(def), stepSelectSubCasualties(att), StepRemoveSneakCasualties)
	}
	onlyAttackerSneak := !dsff && rfAtt == ReturnFireNone && rfDef == ReturnFireAll
	if water {
		if anyUnit(m, s.Attacking, isSub) {
			steps = append(steps, stepSubsFire(att), stepSelectSubCasualties(def))
		}
		if onlyAttackerSneak {
			steps = append(steps, StepRemoveSneakCasualties)
		}
	}
	withAll := b.defendingSubsFireWithAllDefenders()
	withAllAlways := !b.defendingSubsSneakAttack3()
	if water && !withAllAlways && !withAll && !dsff && anyUnit(m, s.Defending, isSub) {
		steps = append(steps, stepSubsFire(def), stepSelectSubCasualties(att))
	}
	if water && !dsff && !onlyAttackerSneak && (rfDef != ReturnFireAll || rfAtt != ReturnFireAll) {
		steps = append(steps, StepRemoveSneakCasualties)
	}
	if b.rules.AirAttackSubRestricted && anyUnit(m, s.Attacking, isAir) && !b.canAirAttackSubs(s.Defending, s.Attacking) {
		steps = append(steps, StepSubmergeSubsVsAirOnly)
		if water {
			steps = append(steps, StepAirAttackNonSubs)
		}
	}
	if anyUnit(m, s.Attacking, not(isSub)) {
		steps = append(steps, stepFire(att), stepSelectCasualties(def))
	}
	defendingAll := unionIDs(s.Defending, s.DefendingWaitingToDie)
	if water && anyUnit(m, defendingAll, isSub) && !dsff && (withAll || withAllAlways) {
		steps = append(steps, stepSubsFire(def), stepSelectSubCasualties(att))
	}
	if water && b.rules.AirAttackSubRestricted && anyUnit(m, s.Defending, isAir) && !b.canAirAttackSubs(s.Attacking, defendingAll) {
		steps = append(steps, StepAirDefendNonSubs)
	}
	if anyUnit(m, s.Defending, not(isSub)) {
		steps = append(steps, stepFire(def), stepSelectCasualties(att))
	}
	steps = append(steps, StepRemoveCasualties)

	if water {
		if b.rules.SubmersibleSubs {
			if !b.rules.SubRetreatBeforeBattle {
				if anyUnit(m, s.Attacking, isSub) {
					steps = append(steps, stepSubsSubmerge(att))
				}
				if anyUnit(m, s.Defending, isSub) {
					steps = append(steps, stepSubsSubmerge(def))
				}
			}
		} else {
			if b.canAttackerRetreatSubs() && anyUnit(m, s.Attacking, isSub) {
				steps = append(steps, stepSubsWithdraw(att))
			}
			if b.canDefenderRetreatSubs() && anyUnit(m, s.Defending, isSub) {
				steps = append(steps, stepSubsWithdraw(def))
			}
		}
	}
	someAirAtSea := water && anyUnit(m, s.Attacking, isAir)
	if b.canAttackerRetreat() || someAirAtSea || b.canAttackerRetreatPartialAmphib() || b.canAttackerRetreatPlanes() {
		steps = append(steps, stepAttackerWithdraw(att))
	}
	return steps
}
